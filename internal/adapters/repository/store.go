// Package repository serves the published leaderboard from disk.
package repository

import "context"

// Entry represents a leaderboard row.
type Entry struct {
	Rank        int     `json:"rank"`
	BundleID    string  `json:"bundle_id"`
	ModelName   string  `json:"model_name"`
	Affiliation string  `json:"affiliation"`
	Public      bool    `json:"public"`
	CodeLink    string  `json:"code_link,omitempty"`
	BundleURL   string  `json:"bundle_url,omitempty"`
	WeightedF1  float64 `json:"weighted_f1"`
	LastUpdated int64   `json:"last_updated,omitempty"`
}

// Store provides read access to the ranking state.
type Store interface {
	// Rank returns the row of a bundle.
	// Returns ErrNotFound if the bundle is not on the leaderboard.
	Rank(ctx context.Context, bundleID string) (Entry, error)

	// TopN returns the top-N rows in leaderboard order.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of rows on the leaderboard.
	Count(ctx context.Context) int
}
