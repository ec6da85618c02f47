package config

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrLoadConfig       = errors.New("load config failed")
	ErrEmptyAddr        = errors.New("addr must not be empty")
	ErrNoCredentials    = errors.New("credentials_path must not be empty")
	ErrHeartbeatTooLong = errors.New("push_heartbeat must not exceed push_interval")
)
