package entity

import "time"

type Notification struct {
	ID          string    `json:"id"`
	PollID      int64     `json:"poll_id"`
	RecipientID int64     `json:"recipient_id"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
