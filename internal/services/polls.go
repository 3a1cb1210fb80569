package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/lib/logger/sl"
)

var (
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
)

type PollStorage interface {
	SavePoll(ctx context.Context, title string, options []string, ownerID int64) (int64, error)
	GetPollByID(ctx context.Context, id int64) (entity.Poll, error)
	ListActivePolls(ctx context.Context) ([]entity.Poll, error)
	MarkPollDeleted(ctx context.Context, id int64) error
}

// VoteLedger is the append-only source of truth for votes. AppendVote
// validates the target poll and enforces the duplicate-vote policy inside
// the storage layer's per-poll critical section.
type VoteLedger interface {
	AppendVote(ctx context.Context, pollID, voterID int64, option string) (entity.Vote, error)
	CountVotes(ctx context.Context, pollID int64) (map[string]int64, error)
}

// Polls is the API facade. It is the sole writer-orchestrator: a vote flows
// ledger append -> tally apply -> owner notification -> event publish, and
// only a ledger failure fails the request.
type Polls struct {
	log                 *slog.Logger
	pollStorage         PollStorage
	ledger              VoteLedger
	notificationStorage NotificationStorage
	tallies             *Aggregator
	propagator          *Propagator
	notifier            *Notifier
}

func NewPolls(
	log *slog.Logger,
	pollStorage PollStorage,
	ledger VoteLedger,
	notificationStorage NotificationStorage,
	tallies *Aggregator,
	propagator *Propagator,
	notifier *Notifier,
) *Polls {
	return &Polls{
		log:                 log,
		pollStorage:         pollStorage,
		ledger:              ledger,
		notificationStorage: notificationStorage,
		tallies:             tallies,
		propagator:          propagator,
		notifier:            notifier,
	}
}

func (p *Polls) CreatePoll(ctx context.Context, title string, options []string, ownerID int64) (entity.Poll, error) {
	const op = "Polls.CreatePoll"

	if strings.TrimSpace(title) == "" {
		return entity.Poll{}, fmt.Errorf("%w: empty title", ErrValidation)
	}
	if len(options) == 0 {
		return entity.Poll{}, fmt.Errorf("%w: poll needs at least one option", ErrValidation)
	}
	seen := make(map[string]struct{}, len(options))
	for _, option := range options {
		if strings.TrimSpace(option) == "" {
			return entity.Poll{}, fmt.Errorf("%w: empty option", ErrValidation)
		}
		if _, ok := seen[option]; ok {
			return entity.Poll{}, fmt.Errorf("%w: duplicate option %q", ErrValidation, option)
		}
		seen[option] = struct{}{}
	}

	id, err := p.pollStorage.SavePoll(ctx, title, options, ownerID)
	if err != nil {
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	poll, err := p.pollStorage.GetPollByID(ctx, id)
	if err != nil {
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	p.tallies.Prime(poll.ID)

	p.log.Info("poll created",
		slog.String("op", op),
		slog.Int64("poll_id", poll.ID),
		slog.Int64("owner_id", ownerID),
	)

	return poll, nil
}

// CastVote durably records the vote, then updates the tally, notifies the
// owner and publishes the change. Once the ledger append committed, failures
// in the later stages degrade timeliness only; the background reconciler
// repairs the tally from the ledger.
func (p *Polls) CastVote(ctx context.Context, pollID, voterID int64, option string) (entity.Tally, error) {
	const op = "Polls.CastVote"

	vote, err := p.ledger.AppendVote(ctx, pollID, voterID, option)
	if err != nil {
		return entity.Tally{}, fmt.Errorf("%s: %w", op, err)
	}

	tally, tallyErr := p.tallies.ApplyVote(ctx, pollID, option)
	if tallyErr != nil {
		// the vote is durable; the reconciler rebuilds the tally later
		p.log.Warn("failed to update tally after vote", slog.String("op", op), sl.Err(tallyErr))
	}

	poll, err := p.pollStorage.GetPollByID(ctx, pollID)
	if err != nil {
		// vote is recorded; owner just doesn't get notified this time
		p.log.Warn("failed to load poll for notification", slog.String("op", op), sl.Err(err))
	} else {
		p.notifier.NotifyOwner(ctx, poll, vote)
	}

	if tallyErr != nil {
		return entity.Tally{PollID: pollID}, nil
	}

	p.propagator.Publish(pollID, entity.Event{
		Type:    entity.EventTallyChanged,
		PollID:  pollID,
		Version: tally.Version,
		Counts:  tally.Counts,
		Total:   tally.Total,
	})

	return tally, nil
}

func (p *Polls) DeletePoll(ctx context.Context, pollID, requesterID int64) error {
	const op = "Polls.DeletePoll"

	poll, err := p.pollStorage.GetPollByID(ctx, pollID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if poll.OwnerID != requesterID {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := p.pollStorage.MarkPollDeleted(ctx, pollID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.propagator.Publish(pollID, entity.Event{
		Type:   entity.EventPollDeleted,
		PollID: pollID,
	})

	p.log.Info("poll deleted",
		slog.String("op", op),
		slog.Int64("poll_id", pollID),
		slog.Int64("requester_id", requesterID),
	)

	return nil
}

// GetPollSnapshot returns the poll together with its current tally. Deleted
// polls stay readable: deletion is a state flag, historical results survive.
func (p *Polls) GetPollSnapshot(ctx context.Context, pollID int64) (entity.Poll, entity.Tally, error) {
	const op = "Polls.GetPollSnapshot"

	poll, err := p.pollStorage.GetPollByID(ctx, pollID)
	if err != nil {
		return entity.Poll{}, entity.Tally{}, fmt.Errorf("%s: %w", op, err)
	}

	tally, err := p.tallies.Snapshot(ctx, pollID)
	if err != nil {
		return entity.Poll{}, entity.Tally{}, fmt.Errorf("%s: %w", op, err)
	}

	return poll, tally, nil
}

func (p *Polls) SubscribeToPoll(ctx context.Context, pollID int64) (*Subscription, error) {
	const op = "Polls.SubscribeToPoll"

	poll, err := p.pollStorage.GetPollByID(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub := p.propagator.Subscribe(pollID)

	if poll.State == entity.PollStateDeleted {
		// the poll is already gone: deliver the terminal event right away
		// instead of an idle stream that can never produce one
		p.propagator.Publish(pollID, entity.Event{
			Type:   entity.EventPollDeleted,
			PollID: pollID,
		})
	}

	return sub, nil
}

func (p *Polls) ListActivePolls(ctx context.Context) ([]entity.Poll, error) {
	const op = "Polls.ListActivePolls"

	polls, err := p.pollStorage.ListActivePolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return polls, nil
}

func (p *Polls) Notifications(ctx context.Context, recipientID int64) ([]entity.Notification, error) {
	const op = "Polls.Notifications"

	notifications, err := p.notificationStorage.NotificationsByRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return notifications, nil
}

// MarkNotificationRead is owner-only and idempotent.
func (p *Polls) MarkNotificationRead(ctx context.Context, id string, requesterID int64) error {
	const op = "Polls.MarkNotificationRead"

	notification, err := p.notificationStorage.GetNotificationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if notification.RecipientID != requesterID {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := p.notificationStorage.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
