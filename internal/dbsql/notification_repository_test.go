package dbsql

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pollcast/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *NotificationRepository {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "notifications.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewNotificationRepository(db).WithClock(func() time.Time { return base })
}

func appendAt(t *testing.T, repo *NotificationRepository, recipient string, kind common.NotificationKind, at time.Time) *common.Notification {
	t.Helper()
	n, err := repo.Append(context.Background(), &common.Notification{
		RecipientID: recipient,
		Kind:        kind,
		Message:     string(kind),
		Priority:    common.PriorityFor(kind),
		CreatedAt:   at,
	})
	require.NoError(t, err)
	return n
}

func ids(list []*common.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	repo := newTestRepo(t)

	n, err := repo.Append(context.Background(), &common.Notification{
		RecipientID: "alice",
		Kind:        common.KindVote,
		Message:     "bob voted",
		Context:     common.NotificationContext{PollID: "p1", ActorName: "bob"},
		Priority:    common.PriorityLow,
		IsRead:      true,
	})
	require.NoError(t, err)
	assert.Len(t, n.ID, 36)
	assert.Equal(t, base, n.CreatedAt)
	assert.False(t, n.IsRead, "new records start unread")

	list, err := repo.List(context.Background(), "alice", common.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)
	assert.Equal(t, "p1", list[0].Context.PollID)
	assert.Equal(t, "bob voted", list[0].Message)
}

func TestAppend_NeverOverwrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Append(ctx, &common.Notification{ID: "fixed", RecipientID: "alice", Kind: common.KindVote, Message: "first", Priority: common.PriorityLow})
	require.NoError(t, err)

	_, err = repo.Append(ctx, &common.Notification{ID: "fixed", RecipientID: "bob", Kind: common.KindSystem, Message: "second", Priority: common.PriorityHigh})
	assert.ErrorIs(t, err, common.ErrDuplicateID)

	list, err := repo.List(ctx, "alice", common.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.Message, list[0].Message)

	_, err = repo.Append(ctx, &common.Notification{Kind: common.KindVote})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = repo.Append(ctx, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestAppend_ConcurrentSameRecipient(t *testing.T) {
	repo := newTestRepo(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Append(context.Background(), &common.Notification{RecipientID: "alice", Kind: common.KindVote, Message: "m", Priority: common.PriorityLow})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := repo.List(context.Background(), "alice", common.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 20)

	seen := map[string]bool{}
	for _, n := range list {
		assert.False(t, seen[n.ID])
		seen[n.ID] = true
	}
}

func TestList_OrderNewestFirstStableTies(t *testing.T) {
	repo := newTestRepo(t)

	old := appendAt(t, repo, "alice", common.KindVote, base.Add(-time.Hour))
	tieA := appendAt(t, repo, "alice", common.KindComment, base)
	tieB := appendAt(t, repo, "alice", common.KindReply, base)
	newest := appendAt(t, repo, "alice", common.KindSystem, base.Add(time.Minute))
	appendAt(t, repo, "bob", common.KindVote, base)

	list, err := repo.List(context.Background(), "alice", common.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{newest.ID, tieA.ID, tieB.ID, old.ID}, ids(list))

	list, err = repo.List(context.Background(), "alice", common.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{newest.ID, tieA.ID}, ids(list))
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)

	vote := appendAt(t, repo, "alice", common.KindVote, base.Add(-time.Hour))
	comment := appendAt(t, repo, "alice", common.KindComment, base.Add(-3*24*time.Hour))
	system := appendAt(t, repo, "alice", common.KindSystem, base.Add(-20*24*time.Hour))
	ancient := appendAt(t, repo, "alice", common.KindVote, base.Add(-90*24*time.Hour))

	_, err := repo.MarkRead(context.Background(), comment.ID, "alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter common.ListFilter
		want   []string
	}{
		{"all", common.ListFilter{}, []string{vote.ID, comment.ID, system.ID, ancient.ID}},
		{"kind", common.ListFilter{Kind: common.KindVote}, []string{vote.ID, ancient.ID}},
		{"priority", common.ListFilter{Priority: common.PriorityHigh}, []string{system.ID}},
		{"unread", common.ListFilter{UnreadOnly: true}, []string{vote.ID, system.ID, ancient.ID}},
		{"today", common.ListFilter{Window: common.WindowToday}, []string{vote.ID}},
		{"week", common.ListFilter{Window: common.WindowWeek}, []string{vote.ID, comment.ID}},
		{"month", common.ListFilter{Window: common.WindowMonth}, []string{vote.ID, comment.ID, system.ID}},
		{"combined", common.ListFilter{Kind: common.KindVote, UnreadOnly: true, Window: common.WindowMonth}, []string{vote.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.List(context.Background(), "alice", tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list))
		})
	}
}

func TestMarkRead_IdempotentAndOwned(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n := appendAt(t, repo, "alice", common.KindVote, base)

	first, err := repo.MarkRead(ctx, n.ID, "alice")
	require.NoError(t, err)
	assert.True(t, first.IsRead)
	require.NotNil(t, first.ReadAt)

	second, err := repo.MarkRead(ctx, n.ID, "alice")
	require.NoError(t, err)
	assert.True(t, second.IsRead)

	_, err = repo.MarkRead(ctx, n.ID, "bob")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.MarkRead(ctx, "missing", "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMarkAllRead_CountsOnlyTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := appendAt(t, repo, "alice", common.KindVote, base)
	appendAt(t, repo, "alice", common.KindComment, base)
	appendAt(t, repo, "alice", common.KindReply, base)
	appendAt(t, repo, "bob", common.KindVote, base)
	_, err := repo.MarkRead(ctx, a.ID, "alice")
	require.NoError(t, err)

	count, readAt, err := repo.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, base.Equal(readAt))

	unread, err := repo.List(ctx, "alice", common.ListFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := repo.List(ctx, "alice", common.ListFilter{})
	require.NoError(t, err)
	for _, n := range all {
		require.NotNil(t, n.ReadAt)
		assert.True(t, readAt.Equal(*n.ReadAt), n.ID)
	}

	count, _, err = repo.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	bobUnread, err := repo.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bobUnread)
}

func TestMarkRead_ConcurrentStaysRead(t *testing.T) {
	repo := newTestRepo(t)
	n := appendAt(t, repo, "alice", common.KindVote, base)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repo.MarkRead(context.Background(), n.ID, "alice")
			assert.NoError(t, err)
			if got != nil {
				assert.True(t, got.IsRead)
			}
		}()
	}
	wg.Wait()

	count, err := repo.UnreadCount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteAndClearAll(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := appendAt(t, repo, "alice", common.KindVote, base)
	for i := 0; i < 3; i++ {
		appendAt(t, repo, "alice", common.KindComment, base.Add(time.Duration(i)*time.Second))
	}
	b := appendAt(t, repo, "bob", common.KindVote, base)

	assert.ErrorIs(t, repo.Delete(ctx, b.ID, "alice"), common.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "missing", "alice"), common.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, a.ID, "alice"))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID, "alice"), common.ErrNotFound)

	count, err := repo.ClearAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	list, err := repo.List(ctx, "alice", common.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = repo.List(ctx, "bob", common.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, fmt.Sprintf("bob's records survive: %v", ids(list)))
}
