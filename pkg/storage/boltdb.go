package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/types"
	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketFan = []byte("fan")

	keySettings = []byte("settings")
)

// ErrNotInitialized is returned by Load when nothing was saved yet
var ErrNotInitialized = errors.New("settings not initialized")

// storedSettings mirrors types.Settings with wide fields so out-of-range
// values survive decoding and can be sanitized
type storedSettings struct {
	Mode          int  `json:"mode"`
	ManualSpeed   int  `json:"manual_speed"`
	NightEnabled  bool `json:"night_enabled"`
	NightStart    int  `json:"night_start"`
	NightEnd      int  `json:"night_end"`
	NightMaxSpeed int  `json:"night_max_speed"`
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	mu sync.RWMutex
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "breeze.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFan); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketFan, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save persists the settings
func (s *BoltStore) Save(settings types.Settings) error {
	if !settings.Mode.Valid() {
		return &types.ValidationError{Field: "mode", Reason: "error mode is never persisted"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return types.ErrStoreUnavailable
	}

	data, err := json.Marshal(storedSettings{
		Mode:          int(settings.Mode),
		ManualSpeed:   settings.ManualSpeed,
		NightEnabled:  settings.NightEnabled,
		NightStart:    settings.NightStart,
		NightEnd:      settings.NightEnd,
		NightMaxSpeed: settings.NightMaxSpeed,
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFan).Put(keySettings, data)
	})
}

// Load reads the settings, falling back to defaults field by field
func (s *BoltStore) Load(defaults types.Settings) (types.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return defaults, types.ErrStoreUnavailable
	}

	var raw storedSettings
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFan).Get(keySettings)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &raw)
	})
	if err != nil {
		return defaults, fmt.Errorf("failed to read settings: %w", err)
	}
	if !found {
		return defaults, ErrNotInitialized
	}

	return sanitize(raw, defaults), nil
}

// sanitize maps an out-of-range mode back to auto and replaces any other
// out-of-range field with its default
func sanitize(raw storedSettings, defaults types.Settings) types.Settings {
	logger := log.WithComponent("storage")
	out := defaults

	mode := types.FanMode(raw.Mode)
	if raw.Mode < 0 || raw.Mode > 255 || !mode.Valid() {
		logger.Warn().Int("stored_mode", raw.Mode).Msg("Stored mode out of range, using auto")
		mode = types.ModeAuto
	}
	out.Mode = mode

	if raw.ManualSpeed >= 0 && raw.ManualSpeed <= 100 {
		out.ManualSpeed = raw.ManualSpeed
	}
	out.NightEnabled = raw.NightEnabled
	if raw.NightStart >= 0 && raw.NightStart <= 23 {
		out.NightStart = raw.NightStart
	}
	if raw.NightEnd >= 0 && raw.NightEnd <= 23 {
		out.NightEnd = raw.NightEnd
	}
	if raw.NightMaxSpeed >= 0 && raw.NightMaxSpeed <= 100 {
		out.NightMaxSpeed = raw.NightMaxSpeed
	}
	return out
}
