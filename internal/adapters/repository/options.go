package repository

import (
	"time"

	"github.com/okian/podium/pkg/logger"
)

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithHost sets the CodaLab host used for bundle links when the file
// carries none.
func WithHost(host string) Option {
	return func(s *FileStore) {
		if host != "" {
			s.defaultHost = host
		}
	}
}

// WithDebounce sets how long Watch waits after the last change before
// reloading.
func WithDebounce(d time.Duration) Option {
	return func(s *FileStore) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}
