package inmem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendVote_Validation(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A", "B"}, 1)
	require.NoError(t, err)

	_, err = store.AppendVote(ctx, pollID+1, 2, "A")
	assert.ErrorIs(t, err, repo.ErrPollNotFound)

	_, err = store.AppendVote(ctx, pollID, 2, "C")
	assert.ErrorIs(t, err, repo.ErrInvalidOption)

	require.NoError(t, store.MarkPollDeleted(ctx, pollID))
	_, err = store.AppendVote(ctx, pollID, 2, "A")
	assert.ErrorIs(t, err, repo.ErrPollDeleted)
}

func TestAppendVote_AssignsLedgerIdentity(t *testing.T) {
	ctx := context.Background()
	store := New(false)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A"}, 1)
	require.NoError(t, err)

	first, err := store.AppendVote(ctx, pollID, 2, "A")
	require.NoError(t, err)
	second, err := store.AppendVote(ctx, pollID, 3, "A")
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestAppendVote_DuplicatePolicy(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A", "B"}, 1)
	require.NoError(t, err)

	_, err = store.AppendVote(ctx, pollID, 2, "A")
	require.NoError(t, err)

	// same voter, different option: still a duplicate
	_, err = store.AppendVote(ctx, pollID, 2, "B")
	assert.ErrorIs(t, err, repo.ErrDuplicateVote)

	counts, err := store.CountVotes(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["A"])
	assert.Zero(t, counts["B"])
}

func TestAppendVote_ConcurrentDuplicateRace(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A"}, 1)
	require.NoError(t, err)

	const racers = 20

	var wg sync.WaitGroup
	var successes, duplicates atomic.Int32
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendVote(ctx, pollID, 42, "A")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, repo.ErrDuplicateVote):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	// exactly one append wins, every other racer gets the duplicate error
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(racers-1), duplicates.Load())

	counts, err := store.CountVotes(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["A"])
}

func TestAppendVote_ConcurrentDistinctVoters(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A"}, 1)
	require.NoError(t, err)

	const voters = 50

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(voterID int64) {
			defer wg.Done()
			_, err := store.AppendVote(ctx, pollID, voterID, "A")
			assert.NoError(t, err)
		}(int64(i + 1))
	}
	wg.Wait()

	counts, err := store.CountVotes(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, int64(voters), counts["A"])
}

func TestAppendVote_ConcurrentAcrossPolls(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	const pollCount, votersPerPoll = 8, 25

	ids := make([]int64, 0, pollCount)
	for i := 0; i < pollCount; i++ {
		pollID, err := store.SavePoll(ctx, "Pick one", []string{"A"}, 1)
		require.NoError(t, err)
		ids = append(ids, pollID)
	}

	var wg sync.WaitGroup
	for _, pollID := range ids {
		for voter := 0; voter < votersPerPoll; voter++ {
			wg.Add(1)
			go func(pollID, voterID int64) {
				defer wg.Done()
				_, err := store.AppendVote(ctx, pollID, voterID, "A")
				assert.NoError(t, err)
			}(pollID, int64(voter+1))
		}
	}
	wg.Wait()

	for _, pollID := range ids {
		counts, err := store.CountVotes(ctx, pollID)
		require.NoError(t, err)
		assert.Equal(t, int64(votersPerPoll), counts["A"])
	}
}

func TestMarkPollDeleted(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A"}, 1)
	require.NoError(t, err)

	require.NoError(t, store.MarkPollDeleted(ctx, pollID))

	// logical delete: poll still readable, just not active
	poll, err := store.GetPollByID(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, entity.PollStateDeleted, poll.State)

	active, err := store.ListActivePolls(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// repeated delete reports not found
	assert.ErrorIs(t, store.MarkPollDeleted(ctx, pollID), repo.ErrPollNotFound)
}

func TestGetPollByID_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	pollID, err := store.SavePoll(ctx, "Pick one", []string{"A", "B"}, 1)
	require.NoError(t, err)

	poll, err := store.GetPollByID(ctx, pollID)
	require.NoError(t, err)
	poll.Options[0] = "mutated"

	again, err := store.GetPollByID(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Options[0])
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	store := New(true)

	n := &entity.Notification{ID: "n-1", PollID: 1, RecipientID: 10, Message: "New vote"}
	require.NoError(t, store.SaveNotification(ctx, n))
	assert.False(t, n.CreatedAt.IsZero())

	got, err := store.GetNotificationByID(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, got.IsRead)

	require.NoError(t, store.MarkNotificationRead(ctx, "n-1"))
	require.NoError(t, store.MarkNotificationRead(ctx, "n-1"))

	got, err = store.GetNotificationByID(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)

	assert.ErrorIs(t, store.MarkNotificationRead(ctx, "missing"), repo.ErrNotificationNotFound)

	list, err := store.NotificationsByRecipient(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
