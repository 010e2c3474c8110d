//go:build !tinygo

package sdi12

import "sync"

// Host shim: there are no interrupts, so one mutex stands in for the mask.
// The simulated ISR takes it on entry, critical sections take it for their
// duration. Critical sections must not nest and must not drive pins.

var hostIRQ sync.Mutex

type irqState struct{}

func disableIRQ() irqState {
	hostIRQ.Lock()
	return irqState{}
}

func restoreIRQ(irqState) { hostIRQ.Unlock() }

func enterISR() { hostIRQ.Lock() }
func exitISR()  { hostIRQ.Unlock() }

// Simulated edges are delivered synchronously from Pin.Set, so the mask
// cannot be held across a character.
const maskCharTx = false
