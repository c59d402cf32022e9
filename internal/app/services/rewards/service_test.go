package rewards

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/noospace-net/noospace/internal/app/clock"
	feeddomain "github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/internal/app/storage/memory"
)

func newTestService(clk clock.Clock) (*Service, *memory.Store) {
	store := memory.New()
	svc := New(DefaultConfig(), store, store, store, nil, clk, nil)
	return svc, store
}

func TestReward(t *testing.T) {
	svc, _ := newTestService(nil)

	if got := svc.Reward(false); got != 5 {
		t.Fatalf("expected base reward 5, got %d", got)
	}
	if got := svc.Reward(true); got != 7 {
		t.Fatalf("expected intent reward 7, got %d", got)
	}
}

func TestSubmitPostCreditsLedger(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	post, err := svc.SubmitPost(ctx, "wallet-1", "hello space", true)
	if err != nil {
		t.Fatalf("submit post: %v", err)
	}
	if post.Reward != 7 {
		t.Fatalf("expected reward 7, got %d", post.Reward)
	}
	if post.Owner != "wallet-1" {
		t.Fatalf("expected owner wallet-1, got %q", post.Owner)
	}

	rec, err := store.GetLedger(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if rec.Unclaimed != 7 {
		t.Fatalf("expected unclaimed 7, got %d", rec.Unclaimed)
	}
	if rec.Spendable != 7 {
		t.Fatalf("expected spendable 7, got %d", rec.Spendable)
	}
	if rec.UnclaimedSince.IsZero() {
		t.Fatal("expected unclaimed_since to be set")
	}
	if rec.RegisteredAt.IsZero() {
		t.Fatal("expected registered_at to be set")
	}
}

func TestSubmitPostEmptyText(t *testing.T) {
	svc, _ := newTestService(nil)

	if _, err := svc.SubmitPost(context.Background(), "wallet-1", "   ", false); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestSubmitPostTruncatesLongText(t *testing.T) {
	svc, _ := newTestService(nil)

	long := strings.Repeat("x", 500)
	post, err := svc.SubmitPost(context.Background(), "wallet-1", long, false)
	if err != nil {
		t.Fatalf("submit post: %v", err)
	}
	if len([]rune(post.Text)) != 240 {
		t.Fatalf("expected text truncated to 240 runes, got %d", len([]rune(post.Text)))
	}
}

func TestSubmitPostQuota(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitPost(ctx, "wallet-1", "post", false); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}

	_, err := svc.SubmitPost(ctx, "wallet-1", "one too many", false)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// The rejected post must not move the ledger.
	rec, err := store.GetLedger(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if rec.Unclaimed != 15 {
		t.Fatalf("expected unclaimed 15 after three posts, got %d", rec.Unclaimed)
	}

	posts, err := store.ListPosts(ctx, 0)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 stored posts, got %d", len(posts))
	}
}

func TestQuotaRollsOverAtMidnight(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	svc, _ := newTestService(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitPost(ctx, "wallet-1", "evening post", false); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}
	if _, err := svc.SubmitPost(ctx, "wallet-1", "blocked", false); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	clk.Advance(2 * time.Hour) // past midnight UTC

	if _, err := svc.SubmitPost(ctx, "wallet-1", "morning post", false); err != nil {
		t.Fatalf("expected quota reset after midnight, got %v", err)
	}

	used, err := svc.Used(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 1 {
		t.Fatalf("expected 1 used after rollover, got %d", used)
	}
}

// failingFeedStore rejects appends while failAppend is set.
type failingFeedStore struct {
	storage.FeedStore
	failAppend bool
}

func (f *failingFeedStore) AppendPost(ctx context.Context, p feeddomain.Post) (feeddomain.Post, error) {
	if f.failAppend {
		return feeddomain.Post{}, errors.New("feed unavailable")
	}
	return f.FeedStore.AppendPost(ctx, p)
}

func TestFailedAppendReturnsQuotaSlot(t *testing.T) {
	store := memory.New()
	feedStore := &failingFeedStore{FeedStore: store, failAppend: true}
	svc := New(DefaultConfig(), store, store, feedStore, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.SubmitPost(ctx, "wallet-1", "lost words", true); err == nil {
		t.Fatal("expected submit to fail when the feed store is down")
	}

	// Both the credit and the quota slot are given back.
	rec, err := store.GetLedger(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if rec.Unclaimed != 0 || rec.Spendable != 0 {
		t.Fatalf("expected zero balances after rollback, got %+v", rec)
	}
	used, err := svc.Used(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected 0 used after rollback, got %d", used)
	}

	// The wallet still gets its full quota once the store recovers.
	feedStore.failAppend = false
	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitPost(ctx, "wallet-1", "recovered", false); err != nil {
			t.Fatalf("post %d after recovery: %v", i+1, err)
		}
	}
}

func TestGuestPostSkipsLedger(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	post, err := svc.SubmitPost(ctx, "", "guest words", true)
	if err != nil {
		t.Fatalf("guest post: %v", err)
	}
	if post.Owner != "" {
		t.Fatalf("expected empty owner for guest post, got %q", post.Owner)
	}
	// Guests still see the reward value on the post, but nothing accrues.
	if post.Reward != 7 {
		t.Fatalf("expected reward 7 on guest post, got %d", post.Reward)
	}

	ledgers, err := store.ListLedgers(ctx)
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	if len(ledgers) != 0 {
		t.Fatalf("expected no ledger records for guest post, got %d", len(ledgers))
	}
}

func TestGuestUsageCounting(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(clk)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := svc.GuestIncrement(ctx, "session-abc")
		if err != nil {
			t.Fatalf("guest increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}

	clk.Advance(24 * time.Hour)
	used, err := svc.GuestUsed(ctx, "session-abc")
	if err != nil {
		t.Fatalf("guest used: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected guest counter to roll over, got %d", used)
	}
}

func TestSeparateWalletsHaveSeparateQuotas(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitPost(ctx, "wallet-a", "post", false); err != nil {
			t.Fatalf("wallet-a post %d: %v", i+1, err)
		}
	}
	if _, err := svc.SubmitPost(ctx, "wallet-b", "post", false); err != nil {
		t.Fatalf("wallet-b should be unaffected by wallet-a's quota: %v", err)
	}
}
