package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const filePermission = 0o644

// Load reads and validates the leaderboard file at path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Encode renders rec as indented JSON, four spaces per level.
func Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save replaces path with rec. The file is written next to path and
// renamed into place, so readers never observe a partial leaderboard.
func Save(path string, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmp.Name(), filePermission); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// NormalizeAndSave loads src, normalizes it and saves the result to dst. On
// any error dst is left as it was.
func NormalizeAndSave(ctx context.Context, src, dst string) (Stats, error) {
	log := logger.Get().Named("normalizer")

	rec, err := Load(src)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			metrics.RecordNormalizeFailure()
		}
		return Stats{}, err
	}
	st, err := Normalize(rec)
	if err != nil {
		metrics.RecordNormalizeFailure()
		return Stats{}, fmt.Errorf("%s: %w", src, err)
	}
	if err := Save(dst, rec); err != nil {
		return Stats{}, err
	}

	metrics.RecordNormalize(st.Kept, st.Dropped, st.Anonymized)
	log.Info(ctx, "leaderboard normalized",
		logger.String("src", src),
		logger.String("dst", dst),
		logger.Int("total", st.Total),
		logger.Int("kept", st.Kept),
		logger.Int("dropped", st.Dropped),
		logger.Int("anonymized", st.Anonymized),
	)
	return st, nil
}
