package repo

import "errors"

var (
	ErrPollNotFound         = errors.New("poll not found")
	ErrPollDeleted          = errors.New("poll deleted")
	ErrInvalidOption        = errors.New("option does not belong to poll")
	ErrDuplicateVote        = errors.New("voter already voted on poll")
	ErrNotificationNotFound = errors.New("notification not found")
)
