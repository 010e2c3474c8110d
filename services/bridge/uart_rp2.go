//go:build rp2040 || rp2350

package bridge

import (
	"context"
	"io"
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"sdi12-go/errcode"
)

func init() {
	UARTDial = dialUART
}

func dialUART(_ context.Context, u UARTConfig) (io.ReadWriteCloser, error) {
	var hw *uartx.UART
	switch u.Index {
	case 0:
		hw = uartx.UART0
	case 1:
		hw = uartx.UART1
	default:
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "bridge.dialUART", Msg: "no such uart"}
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(u.Baud),
		TX:       machine.Pin(u.TxPin),
		RX:       machine.Pin(u.RxPin),
	}); err != nil {
		return nil, err
	}
	return NewUARTConn(hw), nil
}
