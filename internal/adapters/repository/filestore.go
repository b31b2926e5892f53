package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/podium/internal/domain/leaderboard"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const defaultDebounce = 200 * time.Millisecond

// Snapshot describes the currently loaded leaderboard.
type Snapshot struct {
	Path     string    `json:"path"`
	Entries  int       `json:"entries"`
	Host     string    `json:"host"`
	LoadedAt time.Time `json:"loaded_at"`
}

var _ Store = (*FileStore)(nil)

// FileStore holds the rows of a normalized leaderboard file in memory. A
// failed reload keeps the previous rows.
type FileStore struct {
	path        string
	defaultHost string
	debounce    time.Duration
	logger      logger.Logger

	mu       sync.RWMutex
	rows     []Entry
	byID     map[string]int
	host     string
	loadedAt time.Time
}

// NewFileStore creates an empty store for the leaderboard at path. Call
// Reload to populate it.
func NewFileStore(path string, opts ...Option) *FileStore {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s := &FileStore{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		byID:     make(map[string]int),
		logger:   logger.Get().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload reads the leaderboard file and replaces the rows.
func (s *FileStore) Reload(ctx context.Context) error {
	rec, err := leaderboard.Load(s.path)
	metrics.RecordStoreReload(err)
	if err != nil {
		s.logger.Warn(ctx, "leaderboard reload failed, keeping previous rows",
			logger.String("path", s.path), logger.Error(err))
		return err
	}

	host := s.defaultHost
	if h := recordHost(rec); h != "" {
		host = h
	}
	rows := buildRows(rec, host)
	byID := make(map[string]int, len(rows))
	for i, r := range rows {
		if r.BundleID != "" {
			if _, dup := byID[r.BundleID]; !dup {
				byID[r.BundleID] = i
			}
		}
	}

	s.mu.Lock()
	s.rows = rows
	s.byID = byID
	s.host = host
	s.loadedAt = time.Now()
	s.mu.Unlock()

	metrics.UpdateStoreEntries(len(rows))
	s.logger.Info(ctx, "leaderboard loaded", logger.String("path", s.path), logger.Int("entries", len(rows)))
	return nil
}

// Watch reloads the store whenever the leaderboard file is created or
// written. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatch, err)
	}
	defer func() { _ = w.Close() }()

	// The directory is watched so atomic renames onto the file are seen.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("%w: %w", ErrWatch, err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			s.logger.Debug(ctx, "leaderboard changed", logger.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = s.Reload(ctx)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "watch error", logger.Error(err))
		}
	}
}

// Rank returns the row of a bundle.
func (s *FileStore) Rank(_ context.Context, bundleID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[bundleID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.rows[i], nil
}

// TopN returns the first n rows.
func (s *FileStore) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n = min(n, len(s.rows))
	out := make([]Entry, n)
	copy(out, s.rows[:n])
	return out, nil
}

// Count returns the number of rows.
func (s *FileStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Snapshot describes the loaded file.
func (s *FileStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Path: s.path, Entries: len(s.rows), Host: s.host, LoadedAt: s.loadedAt}
}

// buildRows ranks scored entries by position. The file is expected to be
// normalized, so its order is the leaderboard order.
func buildRows(rec *leaderboard.Record, host string) []Entry {
	rows := make([]Entry, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		score, ok := e.Score()
		if !ok {
			continue
		}
		sub := e.Submission()
		row := Entry{
			Rank:        len(rows) + 1,
			BundleID:    e.BundleID(),
			ModelName:   text(sub["model_name"]),
			Affiliation: text(sub["affiliation"]),
			Public:      truthy(sub["public"]),
			CodeLink:    webLink(sub["code_link"]),
			WeightedF1:  score,
		}
		if row.BundleID != "" && host != "" {
			row.BundleURL = strings.TrimRight(host, "/") + "/bundles/" + url.PathEscape(row.BundleID) + "/"
		}
		if ts, ok := e.LastUpdated(); ok {
			row.LastUpdated = ts
		}
		rows = append(rows, row)
	}
	return rows
}

func recordHost(rec *leaderboard.Record) string {
	raw, ok := rec.Extra("config")
	if !ok {
		return ""
	}
	var cfg struct {
		Host string `json:"host"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ""
	}
	return cfg.Host
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

// webLink returns v when it is an absolute http(s) URL and "" otherwise.
// Submitters write code_link, and the page puts it in an href.
func webLink(v any) string {
	u, err := url.Parse(strings.TrimSpace(text(v)))
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	}
	return ""
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}
