//go:build tinygo

package sdi12

import "runtime/interrupt"

type irqState = interrupt.State

// disableIRQ masks all interrupts; pair with restoreIRQ via defer.
func disableIRQ() irqState { return interrupt.Disable() }

func restoreIRQ(s irqState) { interrupt.Restore(s) }

// The hardware already runs the handler with the vector masked.
func enterISR() {}
func exitISR()  {}

// maskCharTx keeps other interrupts from stretching bits mid-character.
const maskCharTx = true
