package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/repo"
	_ "github.com/lib/pq"
)

type Storage struct {
	db         *sql.DB
	singleVote bool
}

// New opens a postgres connection. singleVote enables the one-vote-per-voter
// policy inside AppendVote.
func New(postgresURL string, singleVote bool) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db, singleVote: singleVote}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SavePoll(ctx context.Context, title string, options []string, ownerID int64) (int64, error) {
	const op = "storage.postgres.SavePoll"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO polls (title, owner_id, state) VALUES ($1, $2, $3) RETURNING id`,
		title, ownerID, entity.PollStateActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	for position, label := range options {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO poll_options (poll_id, position, label) VALUES ($1, $2, $3)`,
			id, position, label,
		)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) GetPollByID(ctx context.Context, id int64) (entity.Poll, error) {
	const op = "storage.postgres.GetPollByID"

	query := `SELECT id, title, owner_id, state, created_at FROM polls WHERE id = $1`

	var poll entity.Poll
	err := s.db.QueryRowContext(ctx, query, id).Scan(&poll.ID, &poll.Title, &poll.OwnerID, &poll.State, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Poll{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
		}
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	poll.Options, err = s.pollOptions(ctx, s.db, id)
	if err != nil {
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	return poll, nil
}

func (s *Storage) ListActivePolls(ctx context.Context) ([]entity.Poll, error) {
	const op = "storage.postgres.ListActivePolls"

	query := `SELECT id, title, owner_id, state, created_at FROM polls WHERE state = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, entity.PollStateActive)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var polls []entity.Poll
	for rows.Next() {
		var poll entity.Poll
		if err := rows.Scan(&poll.ID, &poll.Title, &poll.OwnerID, &poll.State, &poll.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		polls = append(polls, poll)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	for i := range polls {
		polls[i].Options, err = s.pollOptions(ctx, s.db, polls[i].ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return polls, nil
}

func (s *Storage) MarkPollDeleted(ctx context.Context, id int64) error {
	const op = "storage.postgres.MarkPollDeleted"

	query := `UPDATE polls SET state = $1 WHERE id = $2 AND state = $3`

	res, err := s.db.ExecContext(ctx, query, entity.PollStateDeleted, id, entity.PollStateActive)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
	}

	return nil
}

// AppendVote durably records a vote. The whole validate-then-insert section
// runs under pg_advisory_xact_lock keyed by poll id, so two concurrent
// appends for one poll never both observe the "no prior vote" state when the
// single-vote policy is on. Appends for different polls do not contend.
func (s *Storage) AppendVote(ctx context.Context, pollID, voterID int64, option string) (entity.Vote, error) {
	const op = "storage.postgres.AppendVote"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pollID); err != nil {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}

	var state entity.PollState
	err = tx.QueryRowContext(ctx, `SELECT state FROM polls WHERE id = $1`, pollID).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
		}
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}
	if state == entity.PollStateDeleted {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrPollDeleted)
	}

	var member bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM poll_options WHERE poll_id = $1 AND label = $2)`,
		pollID, option,
	).Scan(&member)
	if err != nil {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}
	if !member {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrInvalidOption)
	}

	if s.singleVote {
		var voted bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND voter_id = $2)`,
			pollID, voterID,
		).Scan(&voted)
		if err != nil {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
		}
		if voted {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrDuplicateVote)
		}
	}

	vote := entity.Vote{PollID: pollID, VoterID: voterID, Option: option}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO votes (poll_id, voter_id, option) VALUES ($1, $2, $3) RETURNING id, created_at`,
		pollID, voterID, option,
	).Scan(&vote.ID, &vote.CreatedAt)
	if err != nil {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}

	return vote, nil
}

func (s *Storage) CountVotes(ctx context.Context, pollID int64) (map[string]int64, error) {
	const op = "storage.postgres.CountVotes"

	query := `SELECT option, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var option string
		var n int64
		if err := rows.Scan(&option, &n); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		counts[option] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return counts, nil
}

func (s *Storage) SaveNotification(ctx context.Context, notification *entity.Notification) error {
	const op = "storage.postgres.SaveNotification"

	query := `INSERT INTO notifications (id, poll_id, recipient_id, message) VALUES ($1, $2, $3, $4) RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		notification.ID, notification.PollID, notification.RecipientID, notification.Message,
	).Scan(&notification.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) GetNotificationByID(ctx context.Context, id string) (entity.Notification, error) {
	const op = "storage.postgres.GetNotificationByID"

	query := `SELECT id, poll_id, recipient_id, message, is_read, created_at FROM notifications WHERE id = $1`

	var n entity.Notification
	err := s.db.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.PollID, &n.RecipientID, &n.Message, &n.IsRead, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Notification{}, fmt.Errorf("%s: %w", op, repo.ErrNotificationNotFound)
		}
		return entity.Notification{}, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (s *Storage) NotificationsByRecipient(ctx context.Context, recipientID int64) ([]entity.Notification, error) {
	const op = "storage.postgres.NotificationsByRecipient"

	query := `SELECT id, poll_id, recipient_id, message, is_read, created_at FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var notifications []entity.Notification
	for rows.Next() {
		var n entity.Notification
		if err := rows.Scan(&n.ID, &n.PollID, &n.RecipientID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return notifications, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id string) error {
	const op = "storage.postgres.MarkNotificationRead"

	query := `UPDATE notifications SET is_read = TRUE WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, repo.ErrNotificationNotFound)
	}

	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Storage) pollOptions(ctx context.Context, q querier, pollID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT label FROM poll_options WHERE poll_id = $1 ORDER BY position`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		options = append(options, label)
	}

	return options, rows.Err()
}
