package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/ledger"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository/sqlite"
)

const cycleKey = "2026-02-20"

func setup(t *testing.T, handles ...string) (*ledger.Ledger, *sqlite.DB) {
	t.Helper()
	return setupAt(t, sqlite.MemoryPath, handles...)
}

// setupAt opens the store at path. A file path gets a full connection pool,
// so concurrent opens really run on separate connections.
func setupAt(t *testing.T, path string, handles ...string) (*ledger.Ledger, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, h := range handles {
		require.NoError(t, db.CreateUser(context.Background(), &model.User{Handle: h, CredentialHash: "x"}))
	}
	return ledger.New(db, model.DefaultTestIdentity), db
}

func checkIn(t *testing.T, db *sqlite.DB, handle string) {
	t.Helper()
	_, _, err := db.CreateCheckin(context.Background(), &model.Checkin{
		CycleKey: cycleKey, Handle: handle, CheckedInAt: time.Now(),
	})
	require.NoError(t, err)
}

func draw(card int, msg string) model.FortuneResult {
	return model.FortuneResult{Message: msg, CollectibleID: card}
}

func TestOpen_OrdinaryUserOncePerCycle(t *testing.T) {
	l, db := setup(t, "alice")
	checkIn(t, db, "alice")
	ctx := context.Background()

	first, err := l.Open(ctx, "alice", cycleKey, draw(4, "first"))
	require.NoError(t, err)
	assert.True(t, first.Opened)
	assert.True(t, first.FirstTimeCollectible)

	for i := 0; i < 2; i++ {
		again, err := l.Open(ctx, "alice", cycleKey, draw(9, "second"))
		require.NoError(t, err)
		assert.False(t, again.Opened)
		assert.Equal(t, ledger.ReasonAlreadyOpened, again.Reason)
		require.NotNil(t, again.Checkin)
		require.NotNil(t, again.Checkin.Fortune)
		assert.Equal(t, "first", again.Checkin.Fortune.Message)
		assert.Equal(t, 4, again.Checkin.Fortune.CollectibleID)
	}

	u, err := db.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, u.Collection)
	assert.Equal(t, 1, u.CollectionCounts[4])
}

func TestOpen_NotCheckedIn(t *testing.T) {
	l, db := setup(t, "alice")
	ctx := context.Background()

	out, err := l.Open(ctx, "alice", cycleKey, draw(1, "m"))
	require.NoError(t, err)
	assert.False(t, out.Opened)
	assert.Equal(t, ledger.ReasonNotCheckedIn, out.Reason)

	_, err = db.GetCheckin(ctx, cycleKey, "alice")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	u, _ := db.GetUser(ctx, "alice")
	assert.Empty(t, u.Collection)
}

func TestOpen_TesterUnlimited(t *testing.T) {
	l, db := setup(t, "tester")
	ctx := context.Background()

	for i, card := range []int{3, 8, 3} {
		out, err := l.Open(ctx, "tester", cycleKey, draw(card, "m"))
		require.NoError(t, err, "open %d", i)
		assert.True(t, out.Opened, "open %d", i)
		assert.Equal(t, card, out.Checkin.Fortune.CollectibleID)
	}

	c, err := db.GetCheckin(ctx, cycleKey, "tester")
	require.NoError(t, err, "tester checkin should be created lazily")
	assert.True(t, c.FortuneOpened)
	assert.Equal(t, 3, c.Fortune.CollectibleID, "latest draw is stored")

	u, _ := db.GetUser(ctx, "tester")
	assert.Equal(t, 2, u.CollectionCounts[3])
	assert.Equal(t, 1, u.CollectionCounts[8])
}

func TestOpen_TesterPrefixMatches(t *testing.T) {
	l, _ := setup(t, "tester42")

	for i := 0; i < 2; i++ {
		out, err := l.Open(context.Background(), "tester42", cycleKey, draw(0, "m"))
		require.NoError(t, err)
		assert.True(t, out.Opened)
	}
}

func TestOpen_FirstTimeFlag(t *testing.T) {
	l, _ := setup(t, "tester")
	ctx := context.Background()

	out, _ := l.Open(ctx, "tester", cycleKey, draw(5, "m"))
	assert.True(t, out.FirstTimeCollectible)

	out, _ = l.Open(ctx, "tester", cycleKey, draw(6, "m"))
	assert.True(t, out.FirstTimeCollectible)

	for i := 0; i < 3; i++ {
		out, _ = l.Open(ctx, "tester", cycleKey, draw(5, "m"))
		assert.False(t, out.FirstTimeCollectible)
	}
}

func TestOpen_CountCappedAtTen(t *testing.T) {
	l, db := setup(t, "tester")
	ctx := context.Background()

	for i := 0; i < model.MaxCollectibleCount+5; i++ {
		_, err := l.Open(ctx, "tester", cycleKey, draw(2, "m"))
		require.NoError(t, err)
	}

	u, _ := db.GetUser(ctx, "tester")
	assert.Equal(t, model.MaxCollectibleCount, u.CollectionCounts[2])
	assert.Equal(t, []int{2}, u.Collection)
}

// openConcurrently races n opens of handle's fortune and counts the outcomes.
func openConcurrently(t *testing.T, l *ledger.Ledger, handle string, n int) (opened, refused int) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			out, err := l.Open(context.Background(), handle, cycleKey, draw(i%22, "m"))
			if err != nil {
				t.Errorf("Open() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.Opened {
				opened++
			} else if out.Reason == ledger.ReasonAlreadyOpened {
				refused++
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return opened, refused
}

func TestOpen_ConcurrentAtMostOnce(t *testing.T) {
	l, db := setup(t, "bob")
	checkIn(t, db, "bob")

	const n = 16
	opened, refused := openConcurrently(t, l, "bob", n)

	assert.Equal(t, 1, opened)
	assert.Equal(t, n-1, refused)

	u, _ := db.GetUser(context.Background(), "bob")
	assert.Len(t, u.Collection, 1)
}

func TestOpen_ConcurrentAtMostOnce_FileDatabase(t *testing.T) {
	l, db := setupAt(t, filepath.Join(t.TempDir(), "club.db"), "bob")
	checkIn(t, db, "bob")

	const n = 48
	opened, refused := openConcurrently(t, l, "bob", n)

	assert.Equal(t, 1, opened)
	assert.Equal(t, n-1, refused)

	u, err := db.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, u.Collection, 1)
	assert.Equal(t, 1, u.CollectionCounts[u.Collection[0]])

	c, err := db.GetCheckin(context.Background(), cycleKey, "bob")
	require.NoError(t, err)
	require.NotNil(t, c.Fortune)
	assert.Equal(t, u.Collection[0], c.Fortune.CollectibleID, "stored snapshot matches the only collected card")
}

func TestOpen_ReadBackIsStable(t *testing.T) {
	l, db := setup(t, "alice")
	checkIn(t, db, "alice")
	ctx := context.Background()

	d := model.FortuneResult{
		Message:       "stable",
		CollectibleID: 11,
		Coupon:        &model.CouponOffer{ID: "c1", Name: "Shot", Probability: 0.03},
	}
	_, err := l.Open(ctx, "alice", cycleKey, d)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c, err := db.GetCheckin(ctx, cycleKey, "alice")
		require.NoError(t, err)
		assert.Equal(t, d, *c.Fortune)
	}
}

func TestOpen_UnknownUser(t *testing.T) {
	l, _ := setup(t)

	_, err := l.Open(context.Background(), "ghost", cycleKey, draw(0, "m"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
