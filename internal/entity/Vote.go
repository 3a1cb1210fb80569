package entity

import "time"

// Vote is a ledger entry. Once appended it is never mutated or deleted;
// ID and CreatedAt are assigned by the ledger, not the client.
type Vote struct {
	ID        int64     `json:"id"`
	PollID    int64     `json:"poll_id"`
	VoterID   int64     `json:"voter_id"`
	Option    string    `json:"option"`
	CreatedAt time.Time `json:"created_at"`
}
