package storage

import (
	"github.com/cuemby/breeze/pkg/types"
)

// Store defines the interface for durable fan settings
type Store interface {
	// Save persists s. It rejects the error-sentinel mode.
	Save(s types.Settings) error

	// Load returns the stored settings, or defaults when the store is
	// unavailable or holds nothing yet. The error explains why defaults
	// were used and may be ignored.
	Load(defaults types.Settings) (types.Settings, error)

	// Utility
	Close() error
}
