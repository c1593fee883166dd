/*
Package storage provides durable settings for Breeze backed by BoltDB.

The store holds one document in the "fan" bucket: the operating mode, the
manual speed and the night window. It is written after every validated
mutation of the fan controller and read once at startup.

# Guarantees

  - Save rejects the error-sentinel mode, so a transient error code is never
    persisted as an operating mode.
  - Load never fails the caller: when the database is closed, empty or
    unreadable it returns the defaults it was given together with an error
    explaining why.
  - Load sanitizes the stored image. An out-of-range mode becomes auto; any
    other out-of-range field is replaced by its default.

# Usage

	store, err := storage.NewBoltStore("/var/lib/breeze")
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Load(types.DefaultSettings(cfg))
	if err != nil {
		logger.Info().Err(err).Msg("Using default settings")
	}

BoltDB holds an exclusive file lock; opening the same file twice waits one
second and then fails.
*/
package storage
