package stream

import "time"

// Cursor is the position of the last accepted block.
type Cursor struct {
	Number uint64
	// Set is false until the stream has picked its starting block.
	Set bool
	// Hash and Timestamp are empty until the first block is accepted.
	Hash      string
	Timestamp time.Time
}

func (c Cursor) advance(hash string, ts time.Time) Cursor {
	return Cursor{Number: c.Number + 1, Set: true, Hash: hash, Timestamp: ts}
}
