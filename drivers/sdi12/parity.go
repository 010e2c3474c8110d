package sdi12

import "math/bits"

// ParityBit returns the even parity bit for the low 7 bits of c.
func ParityBit(c byte) byte {
	return byte(bits.OnesCount8(c&0x7F) & 1)
}

// Frame returns the 8 bits sent after the start bit: 7 data bits LSB first
// and the parity bit in bit 7.
func Frame(c byte) byte {
	return c&0x7F | ParityBit(c)<<7
}

// ParityOK reports whether the 8 received bits (data plus parity in bit 7)
// carry an even number of ones.
func ParityOK(frame byte) bool {
	return bits.OnesCount8(frame)&1 == 0
}
