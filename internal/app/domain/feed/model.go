// Package feed defines the public timeline entries.
package feed

import "time"

// Post is one feed entry. An empty Owner marks a guest post, which earns no
// ledger credit.
type Post struct {
	ID          string    `json:"id" db:"id"`
	Owner       string    `json:"owner" db:"owner"`
	Text        string    `json:"text" db:"text"`
	Reward      int64     `json:"reward" db:"reward"`
	Resonates   int64     `json:"resonates" db:"resonates"`
	Highlighted bool      `json:"highlighted" db:"highlighted"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
