package sdi12

import (
	"context"
	"time"
)

// LookaheadMode selects what ParseInt and ParseFloat may skip before the
// first digit.
type LookaheadMode uint8

const (
	// SkipAll skips anything that cannot start a number.
	SkipAll LookaheadMode = iota
	// SkipNone fails on anything that cannot start a number.
	SkipNone
	// SkipWhitespace skips spaces, tabs, CR and LF only.
	SkipWhitespace
)

// NoIgnore is the ignore byte meaning "ignore nothing".
const NoIgnore byte = 0x01

// timedPeek waits up to the parse timeout for a character. It returns -1 on
// timeout.
func (b *Bus) timedPeek() int {
	deadline := time.Now().Add(b.parseTimeout)
	for {
		if c, err := b.PeekByte(); err == nil {
			return int(c)
		}
		if !b.waitReadable(context.Background(), deadline) {
			return -1
		}
	}
}

func isDigit(c int) bool { return c >= '0' && c <= '9' }

// peekNextDigit discards characters the mode allows to skip and returns the
// first one that can start a number, or -1.
func (b *Bus) peekNextDigit(mode LookaheadMode, decimal bool) int {
	for {
		c := b.timedPeek()
		if c < 0 || c == '-' || isDigit(c) || (decimal && c == '.') {
			return c
		}
		switch mode {
		case SkipNone:
			return -1
		case SkipWhitespace:
			switch c {
			case ' ', '\t', '\r', '\n':
			default:
				return -1
			}
		}
		_, _ = b.ReadByte()
	}
}

// ParseInt reads an integer from the buffer. ignore is skipped inside the
// number (for example a thousands separator); pass NoIgnore for none. It
// returns the timeout value if no number starts in time.
func (b *Bus) ParseInt(mode LookaheadMode, ignore byte) int64 {
	c := b.peekNextDigit(mode, false)
	if c < 0 {
		return b.timeoutValue
	}
	var v int64
	neg := false
	for {
		switch {
		case c == int(ignore):
		case c == '-':
			neg = true
		case isDigit(c):
			v = v*10 + int64(c-'0')
		}
		_, _ = b.ReadByte()
		c = b.timedPeek()
		if !isDigit(c) && c != int(ignore) {
			break
		}
	}
	if neg {
		return -v
	}
	return v
}

// ParseFloat reads a decimal number from the buffer, with the same skipping
// and timeout rules as ParseInt.
func (b *Bus) ParseFloat(mode LookaheadMode, ignore byte) float32 {
	c := b.peekNextDigit(mode, true)
	if c < 0 {
		return float32(b.timeoutValue)
	}
	var v int64
	neg, frac := false, false
	scale := float32(1)
	for {
		switch {
		case c == int(ignore):
		case c == '-':
			neg = true
		case c == '.':
			frac = true
		case isDigit(c):
			v = v*10 + int64(c-'0')
			if frac {
				scale *= 0.1
			}
		}
		_, _ = b.ReadByte()
		c = b.timedPeek()
		if !isDigit(c) && !(c == '.' && !frac) && c != int(ignore) {
			break
		}
	}
	if neg {
		v = -v
	}
	if frac {
		return float32(v) * scale
	}
	return float32(v)
}
