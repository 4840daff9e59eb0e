// Package block defines the block record emitted downstream and its integrity check.
package block

import "time"

// Record is the validated block shape delivered to consumers.
type Record struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  uint64 `json:"timestamp"`
	TxCount    int    `json:"txCount"`
}

// Time returns the block timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0)
}
