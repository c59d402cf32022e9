package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func ledgerColumns() []string {
	return []string{"wallet", "spendable", "unclaimed", "unclaimed_since", "registered_at", "created_at", "updated_at"}
}

func TestGetLedger(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT wallet, spendable, unclaimed, unclaimed_since, registered_at, created_at, updated_at")).
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow("wallet-1", int64(30), int64(12), now, now, now, now))

	rec, err := store.GetLedger(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", rec.Wallet)
	assert.Equal(t, int64(30), rec.Spendable)
	assert.Equal(t, int64(12), rec.Unclaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT wallet")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))

	_, err := store.GetLedger(context.Background(), "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateLedgerExisting(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow("wallet-1", int64(10), int64(0), now, now, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO noo_wallets")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := store.MutateLedger(context.Background(), "wallet-1", func(rec *ledger.Record) error {
		rec.Spendable += 5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.Spendable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateLedgerCreatesMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("fresh").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO noo_wallets")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := store.MutateLedger(context.Background(), "fresh", func(rec *ledger.Record) error {
		rec.Unclaimed = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", rec.Wallet)
	assert.Equal(t, int64(7), rec.Unclaimed)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateLedgerFnErrorRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow("wallet-1", int64(10), int64(0), now, now, now, now))
	mock.ExpectRollback()

	boom := errors.New("insufficient balance")
	_, err := store.MutateLedger(context.Background(), "wallet-1", func(rec *ledger.Record) error {
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsedIgnoresStaleDay(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM noo_daily_usage")).
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet", "used_count", "last_post_date", "updated_at"}).
			AddRow("wallet-1", 3, "2026-02-28", now))

	used, err := store.Used(context.Background(), "wallet-1", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO noo_daily_usage")).
		WithArgs("wallet-1", "2026-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"used_count"}).AddRow(2))

	count, err := store.IncrementUsage(context.Background(), "wallet-1", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementUsage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GREATEST(used_count - 1, 0)")).
		WithArgs("wallet-1", "2026-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"used_count"}).AddRow(1))

	count, err := store.DecrementUsage(context.Background(), "wallet-1", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementUsageMissingCounter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GREATEST(used_count - 1, 0)")).
		WithArgs("wallet-1", "2026-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"used_count"}))

	count, err := store.DecrementUsage(context.Background(), "wallet-1", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func postColumns() []string {
	return []string{"id", "owner", "text", "reward", "resonates", "highlighted", "created_at"}
}

func TestHighlightPost(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SET highlighted = TRUE")).
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows(postColumns()).
			AddRow("post-1", "wallet-1", "shine", int64(7), int64(0), true, now))

	p, err := store.HighlightPost(context.Background(), "post-1")
	require.NoError(t, err)
	assert.True(t, p.Highlighted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHighlightPostAlreadyHighlighted(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// The conditional update misses, and the follow-up read finds the post
	// with its flag already set.
	mock.ExpectQuery(regexp.QuoteMeta("SET highlighted = TRUE")).
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows(postColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM noo_posts")).
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows(postColumns()).
			AddRow("post-1", "wallet-1", "shine", int64(7), int64(0), true, now))

	_, err := store.HighlightPost(context.Background(), "post-1")
	assert.True(t, errors.Is(err, storage.ErrAlreadyHighlighted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHighlightPostNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET highlighted = TRUE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(postColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM noo_posts")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(postColumns()))

	_, err := store.HighlightPost(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumRewards(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(reward), 0)")).
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(17)))

	total, err := store.SumRewards(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, int64(17), total)
	require.NoError(t, mock.ExpectationsWereMet())
}
