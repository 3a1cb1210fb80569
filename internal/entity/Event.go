package entity

type EventType string

const (
	EventTallyChanged EventType = "tally_changed"
	EventPollDeleted  EventType = "poll_deleted"
)

// Event is what live poll viewers receive. Events are delivery hints, not
// the source of truth: a viewer that misses one resyncs from a snapshot.
type Event struct {
	Type    EventType        `json:"type"`
	PollID  int64            `json:"poll_id"`
	Version int64            `json:"version,omitempty"`
	Counts  map[string]int64 `json:"counts,omitempty"`
	Total   int64            `json:"total,omitempty"`
}
