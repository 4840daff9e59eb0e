package storage

import "time"

// BlockRow is a persisted validated block.
type BlockRow struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  time.Time
	TxCount    int
	CreatedAt  time.Time
}

// SwitchRecord captures a provider switch for auditing.
type SwitchRecord struct {
	ID     int64
	From   string
	To     string
	Reason string
	// Head is the plurality head for consensus switches.
	Head       *uint64
	SwitchedAt time.Time
}
