package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/lib/logger/sl"
	"github.com/google/uuid"
)

// NotificationStorage is the durable store the dispatcher writes to.
type NotificationStorage interface {
	SaveNotification(ctx context.Context, notification *entity.Notification) error
	GetNotificationByID(ctx context.Context, id string) (entity.Notification, error)
	NotificationsByRecipient(ctx context.Context, recipientID int64) ([]entity.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Notifier creates exactly one notification per accepted vote for the poll
// owner. Notification delivery is best-effort: a storage failure never fails
// the vote. Failed saves are retried in the background a bounded number of
// times and then given up on with an error log.
type Notifier struct {
	log          *slog.Logger
	storage      NotificationStorage
	suppressSelf bool
	attempts     int
	delay        time.Duration

	wg sync.WaitGroup
}

func NewNotifier(log *slog.Logger, storage NotificationStorage, suppressSelf bool, attempts int, delay time.Duration) *Notifier {
	if attempts < 1 {
		attempts = 1
	}
	return &Notifier{
		log:          log,
		storage:      storage,
		suppressSelf: suppressSelf,
		attempts:     attempts,
		delay:        delay,
	}
}

// NotifyOwner enqueues the owner's notification for an accepted vote. Called
// only after the ledger append succeeded. Never returns an error to the
// voter's request path.
func (n *Notifier) NotifyOwner(ctx context.Context, poll entity.Poll, vote entity.Vote) {
	const op = "Notifier.NotifyOwner"

	if n.suppressSelf && vote.VoterID == poll.OwnerID {
		return
	}

	notification := entity.Notification{
		ID:          uuid.NewString(),
		PollID:      poll.ID,
		RecipientID: poll.OwnerID,
		Message:     fmt.Sprintf("New vote on your poll %q: %s", poll.Title, vote.Option),
	}

	if err := n.storage.SaveNotification(ctx, &notification); err != nil {
		n.log.Warn("failed to save notification, retrying in background",
			slog.String("op", op),
			slog.Int64("poll_id", poll.ID),
			slog.Int64("vote_id", vote.ID),
			sl.Err(err),
		)
		n.wg.Add(1)
		go n.retry(notification)
	}
}

func (n *Notifier) retry(notification entity.Notification) {
	const op = "Notifier.retry"

	defer n.wg.Done()

	for attempt := 1; attempt < n.attempts; attempt++ {
		time.Sleep(n.delay)

		if err := n.storage.SaveNotification(context.Background(), &notification); err != nil {
			n.log.Warn("notification retry failed",
				slog.String("op", op),
				slog.String("notification_id", notification.ID),
				slog.Int("attempt", attempt),
				sl.Err(err),
			)
			continue
		}
		return
	}

	n.log.Error("giving up on notification",
		slog.String("op", op),
		slog.String("notification_id", notification.ID),
		slog.Int64("poll_id", notification.PollID),
	)
}

// Close waits for in-flight background retries to finish. Retries are
// bounded, so the wait is too.
func (n *Notifier) Close() {
	n.wg.Wait()
}
