package entity

// Tally is the derived per-poll aggregate. It is a cache over the vote
// ledger: Total always equals the sum of Counts, and Version grows by one
// per accepted vote.
type Tally struct {
	PollID  int64            `json:"poll_id"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Version int64            `json:"version"`
}

func (t Tally) Clone() Tally {
	counts := make(map[string]int64, len(t.Counts))
	for option, n := range t.Counts {
		counts[option] = n
	}
	return Tally{
		PollID:  t.PollID,
		Counts:  counts,
		Total:   t.Total,
		Version: t.Version,
	}
}
