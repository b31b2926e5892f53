// Package verify checks a running leaderboard server for consistency: rows
// ordered by score, ranks numbered from 1 and every /rank lookup agreeing
// with the listing.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/pkg/logger"
)

// Defaults for Checker.
const (
	DefaultWorkers = 8
	DefaultTimeout = 10 * time.Second
)

// Entry is one leaderboard row as served.
type Entry = repository.Entry

// Report summarizes a check.
type Report struct {
	Entries   int
	RankHits  int
	Problems  []string
	TopScore  float64
	MeanScore float64
	Duration  time.Duration
}

// OK reports whether no problem was found.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// Checker queries a server rooted at a base URL.
type Checker struct {
	baseURL string
	client  *http.Client
	workers int
	limit   int
	logger  logger.Logger
}

// Option applies a configuration option to the Checker.
type Option func(*Checker)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithWorkers bounds concurrent /rank lookups.
func WithWorkers(n int) Option {
	return func(ch *Checker) {
		if n > 0 {
			ch.workers = n
		}
	}
}

// WithLimit asks /leaderboard for at most n rows; zero uses the server
// default.
func WithLimit(n int) Option {
	return func(ch *Checker) {
		if n >= 0 {
			ch.limit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(ch *Checker) {
		if l != nil {
			ch.logger = l
		}
	}
}

// New creates a Checker for baseURL.
func New(baseURL string, opts ...Option) *Checker {
	c := &Checker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		workers: DefaultWorkers,
		logger:  logger.Get().Named("verify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run fetches the leaderboard and every row's rank. Transport failures are
// returned as errors; inconsistencies are collected in the report, and Run
// then also returns ErrInconsistent.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	rows, err := c.Leaderboard(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Entries: len(rows)}
	report.Problems = append(report.Problems, checkOrder(rows)...)

	ranked := make([]Entry, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, row := range rows {
		if row.BundleID == "" {
			continue
		}
		g.Go(func() error {
			got, err := c.Rank(gctx, row.BundleID)
			if err != nil {
				return err
			}
			ranked[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i, row := range rows {
		if row.BundleID == "" {
			continue
		}
		report.RankHits++
		if got := ranked[i]; got != row {
			report.Problems = append(report.Problems,
				fmt.Sprintf("rank of %s is %d with score %.4f, listing says %d with score %.4f",
					row.BundleID, got.Rank, got.WeightedF1, row.Rank, row.WeightedF1))
		}
	}

	if len(rows) > 0 {
		report.TopScore = rows[0].WeightedF1
		sum := 0.0
		for _, r := range rows {
			sum += r.WeightedF1
		}
		report.MeanScore = sum / float64(len(rows))
	}
	report.Duration = time.Since(start)

	c.logger.Info(ctx, "leaderboard checked",
		logger.Int("entries", report.Entries),
		logger.Int("rank_hits", report.RankHits),
		logger.Int("problems", len(report.Problems)),
		logger.Duration("took", report.Duration),
	)
	if !report.OK() {
		return report, fmt.Errorf("%w: %d problems", ErrInconsistent, len(report.Problems))
	}
	return report, nil
}

// Leaderboard fetches the ranked rows.
func (c *Checker) Leaderboard(ctx context.Context) ([]Entry, error) {
	target := c.baseURL + "/leaderboard"
	if c.limit > 0 {
		target += "?limit=" + strconv.Itoa(c.limit)
	}
	var rows []Entry
	if err := c.getJSON(ctx, target, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Rank fetches the row of one bundle.
func (c *Checker) Rank(ctx context.Context, bundleID string) (Entry, error) {
	var row Entry
	err := c.getJSON(ctx, c.baseURL+"/rank/"+url.PathEscape(bundleID), &row)
	return row, err
}

func (c *Checker) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequest, target, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d: %s", ErrRequest, target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequest, target, err)
	}
	return nil
}

// checkOrder reports rows out of score order or with gaps in rank numbers.
func checkOrder(rows []Entry) []string {
	var problems []string
	for i, r := range rows {
		if r.Rank != i+1 {
			problems = append(problems, fmt.Sprintf("row %d has rank %d", i+1, r.Rank))
		}
		if i > 0 && r.WeightedF1 > rows[i-1].WeightedF1 {
			problems = append(problems, fmt.Sprintf("row %d scores %.4f above row %d (%.4f)",
				i+1, r.WeightedF1, i, rows[i-1].WeightedF1))
		}
	}
	return problems
}
