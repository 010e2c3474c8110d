package types

// ---- SDI-12 bus payloads ----

// SDI12Command is the request on "sdi12/<bus>/cmd".
type SDI12Command struct {
	Command string `json:"command"` // e.g. "0M!"
	// Wake sends break and marking first. A nil Wake means true.
	Wake *bool `json:"wake,omitempty"`
	// Raw returns after TimeoutMs without waiting for CR LF.
	Raw       bool `json:"raw,omitempty"`
	TimeoutMs int  `json:"timeout_ms,omitempty"`
}

// WakeOrDefault reports whether the command should be preceded by a wake.
func (c SDI12Command) WakeOrDefault() bool { return c.Wake == nil || *c.Wake }

// SDI12Reply answers an SDI12Command.
type SDI12Reply struct {
	Bus      string `json:"bus"`
	Command  string `json:"command"`
	Response string `json:"response"`
	Overflow bool   `json:"overflow,omitempty"`
	Error    string `json:"error,omitempty"` // errcode string
}

type SDI12Info struct {
	Bus        string `json:"bus"`
	Pin        int    `json:"pin"`
	TxEnable   int    `json:"tx_enable"` // -1 if not fitted
	Baud       int    `json:"baud"`
	BufferSize int    `json:"buffer_size"`
}

// SDI12State is published retained on "sdi12/<bus>/state".
type SDI12State struct {
	Line   string `json:"line"` // disabled, enabled, holding, transmitting, listening
	Active bool   `json:"active"`
	TS     int64  `json:"ts_ms"`
}

// SDI12Stats is one entry of the reply on "sdi12/stats".
type SDI12Stats struct {
	Bus           string `json:"bus"`
	Received      uint32 `json:"received"`
	Sent          uint32 `json:"sent"`
	Overflows     uint32 `json:"overflows"`
	ParityErrors  uint32 `json:"parity_errors"`
	FramingErrors uint32 `json:"framing_errors"`
	SpuriousEdges uint32 `json:"spurious_edges"`
	Transactions  uint32 `json:"transactions"`
	NoResponse    uint32 `json:"no_response"`
}
