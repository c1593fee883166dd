package storage

import (
	"errors"
	"testing"

	"github.com/cuemby/breeze/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func putRaw(t *testing.T, s *BoltStore, data string) {
	t.Helper()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFan).Put(keySettings, []byte(data))
	})
	require.NoError(t, err)
}

func defaults() types.Settings {
	return types.DefaultSettings(types.DefaultFanConfig())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	want := types.Settings{
		Mode:          types.ModeManual,
		ManualSpeed:   55,
		NightEnabled:  true,
		NightStart:    23,
		NightEnd:      6,
		NightMaxSpeed: 25,
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load(defaults())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveRejectsErrorMode(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	s := defaults()
	s.Mode = types.ModeError
	err = store.Save(s)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = store.Load(defaults())
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestLoadUninitializedReturnsDefaults(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(defaults())
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, defaults(), got)
}

func TestLoadClosedStoreReturnsDefaults(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	got, err := store.Load(defaults())
	assert.True(t, errors.Is(err, types.ErrStoreUnavailable))
	assert.Equal(t, defaults(), got)

	assert.True(t, errors.Is(store.Save(defaults()), types.ErrStoreUnavailable))
}

func TestLoadSanitizesOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(types.Settings) types.Settings
	}{
		{
			name: "error sentinel mode",
			raw:  `{"mode":2,"manual_speed":40,"night_enabled":false,"night_start":22,"night_end":7,"night_max_speed":30}`,
			want: func(s types.Settings) types.Settings {
				s.ManualSpeed = 40
				return s
			},
		},
		{
			name: "mode far out of range",
			raw:  `{"mode":9000,"manual_speed":20,"night_enabled":true,"night_start":22,"night_end":7,"night_max_speed":30}`,
			want: func(s types.Settings) types.Settings {
				s.NightEnabled = true
				return s
			},
		},
		{
			name: "bad hours and speeds fall back field by field",
			raw:  `{"mode":1,"manual_speed":140,"night_enabled":true,"night_start":30,"night_end":5,"night_max_speed":-4}`,
			want: func(s types.Settings) types.Settings {
				s.Mode = types.ModeManual
				s.NightEnabled = true
				s.NightEnd = 5
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			defer store.Close()

			putRaw(t, store, tt.raw)
			got, err := store.Load(defaults())
			require.NoError(t, err)
			assert.Equal(t, tt.want(defaults()), got)
		})
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	putRaw(t, store, "{not json")
	got, err := store.Load(defaults())
	assert.Error(t, err)
	assert.Equal(t, defaults(), got)
}
