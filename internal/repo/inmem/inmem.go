package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/repo"
)

// Storage keeps polls, the vote ledger and notifications in process memory.
// It backs the test suite and local runs without postgres; the durable
// implementation lives in repo/postgres and exposes the same methods.
type Storage struct {
	mu         sync.RWMutex
	singleVote bool

	polls         map[int64]entity.Poll
	votes         map[int64][]entity.Vote
	notifications map[string]entity.Notification

	pollSeq int64
	voteSeq int64

	// one lock per poll serializes the ledger's check-then-append section
	pollLocks map[int64]*sync.Mutex
}

func New(singleVote bool) *Storage {
	return &Storage{
		singleVote:    singleVote,
		polls:         make(map[int64]entity.Poll),
		votes:         make(map[int64][]entity.Vote),
		notifications: make(map[string]entity.Notification),
		pollLocks:     make(map[int64]*sync.Mutex),
	}
}

func (s *Storage) SavePoll(_ context.Context, title string, options []string, ownerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pollSeq++
	id := s.pollSeq
	s.polls[id] = entity.Poll{
		ID:        id,
		Title:     title,
		Options:   append([]string(nil), options...),
		OwnerID:   ownerID,
		State:     entity.PollStateActive,
		CreatedAt: time.Now().UTC(),
	}
	s.pollLocks[id] = &sync.Mutex{}

	return id, nil
}

func (s *Storage) GetPollByID(_ context.Context, id int64) (entity.Poll, error) {
	const op = "storage.inmem.GetPollByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	poll, ok := s.polls[id]
	if !ok {
		return entity.Poll{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
	}

	return clonePoll(poll), nil
}

func (s *Storage) ListActivePolls(_ context.Context) ([]entity.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var polls []entity.Poll
	for _, poll := range s.polls {
		if poll.State == entity.PollStateActive {
			polls = append(polls, clonePoll(poll))
		}
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].ID < polls[j].ID })

	return polls, nil
}

func (s *Storage) MarkPollDeleted(_ context.Context, id int64) error {
	const op = "storage.inmem.MarkPollDeleted"

	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[id]
	if !ok || poll.State != entity.PollStateActive {
		return fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
	}

	poll.State = entity.PollStateDeleted
	s.polls[id] = poll

	return nil
}

func (s *Storage) AppendVote(_ context.Context, pollID, voterID int64, option string) (entity.Vote, error) {
	const op = "storage.inmem.AppendVote"

	s.mu.RLock()
	lock, ok := s.pollLocks[pollID]
	s.mu.RUnlock()
	if !ok {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
	}

	// the poll lock alone serializes the check-then-append section; the
	// registry lock is held only around the map accesses, so unrelated
	// polls never queue behind this poll's duplicate scan
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	poll := s.polls[pollID]
	votes := s.votes[pollID]
	s.mu.RUnlock()

	if poll.State == entity.PollStateDeleted {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrPollDeleted)
	}

	member := false
	for _, label := range poll.Options {
		if label == option {
			member = true
			break
		}
	}
	if !member {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrInvalidOption)
	}

	if s.singleVote {
		// appends to this poll's slice only happen under its poll lock,
		// which we hold, so the scan needs no registry lock
		for _, vote := range votes {
			if vote.VoterID == voterID {
				return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrDuplicateVote)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// recheck: a delete may have landed between the read section and here
	if s.polls[pollID].State == entity.PollStateDeleted {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrPollDeleted)
	}

	s.voteSeq++
	vote := entity.Vote{
		ID:        s.voteSeq,
		PollID:    pollID,
		VoterID:   voterID,
		Option:    option,
		CreatedAt: time.Now().UTC(),
	}
	s.votes[pollID] = append(s.votes[pollID], vote)

	return vote, nil
}

func (s *Storage) CountVotes(_ context.Context, pollID int64) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, vote := range s.votes[pollID] {
		counts[vote.Option]++
	}

	return counts, nil
}

func (s *Storage) SaveNotification(_ context.Context, notification *entity.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	s.notifications[notification.ID] = *notification

	return nil
}

func (s *Storage) GetNotificationByID(_ context.Context, id string) (entity.Notification, error) {
	const op = "storage.inmem.GetNotificationByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	notification, ok := s.notifications[id]
	if !ok {
		return entity.Notification{}, fmt.Errorf("%s: %w", op, repo.ErrNotificationNotFound)
	}

	return notification, nil
}

func (s *Storage) NotificationsByRecipient(_ context.Context, recipientID int64) ([]entity.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notifications []entity.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			notifications = append(notifications, n)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})

	return notifications, nil
}

func (s *Storage) MarkNotificationRead(_ context.Context, id string) error {
	const op = "storage.inmem.MarkNotificationRead"

	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, repo.ErrNotificationNotFound)
	}

	notification.IsRead = true
	s.notifications[id] = notification

	return nil
}

func clonePoll(poll entity.Poll) entity.Poll {
	poll.Options = append([]string(nil), poll.Options...)
	return poll
}
