// Package ledger defines the per-wallet economy records.
package ledger

import "time"

// Record is one wallet's token state. Spendable is immediately usable;
// Unclaimed is the time-locked pool that harvesting releases.
type Record struct {
	Wallet         string    `json:"wallet" db:"wallet"`
	Spendable      int64     `json:"spendable" db:"spendable"`
	Unclaimed      int64     `json:"unclaimed" db:"unclaimed"`
	UnclaimedSince time.Time `json:"unclaimed_since" db:"unclaimed_since"`
	RegisteredAt   time.Time `json:"registered_at" db:"registered_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DailyUsage tracks how many rewarded posts a wallet made on a given day.
// LastPostDate is a UTC calendar date; a record from a previous day counts
// as zero.
type DailyUsage struct {
	Wallet       string    `json:"wallet" db:"wallet"`
	UsedCount    int       `json:"used_count" db:"used_count"`
	LastPostDate string    `json:"last_post_date" db:"last_post_date"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DateOf formats t as the UTC calendar date used for quota bucketing.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
