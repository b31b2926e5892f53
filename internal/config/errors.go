package config

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig             = errors.New("invalid config")
	ErrLoadConfig                = errors.New("load config failed")
	ErrSecretsNotFound           = errors.New("secrets json not found")
	ErrCompetitionConfigNotFound = errors.New("competition config yml not found")
	ErrInvalidBucket             = errors.New("wrong bucket path")
)
