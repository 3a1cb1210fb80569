package entity

import "time"

type PollState string

const (
	PollStateActive  PollState = "active"
	PollStateDeleted PollState = "deleted"
)

type Poll struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Options   []string  `json:"options"`
	OwnerID   int64     `json:"owner_id"`
	State     PollState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
