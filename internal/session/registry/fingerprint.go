// SPDX-License-Identifier: MIT

package registry

import (
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
)

const defaultFingerprintTTL = 15 * time.Minute

// fingerprintEntry binds a client-held fingerprint to its session. Expiry
// is Badger's native TTL; lastTouchedAt is informational.
type fingerprintEntry struct {
	Fingerprint   string `json:"fingerprint"`
	SessionID     string `json:"sessionId"`
	TrackID       string `json:"trackId,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	LastTouchedAt int64  `json:"lastTouchedAt"`
}

type fingerprintStore struct {
	db  *badger.DB
	ttl time.Duration
}

// openFingerprintStore opens (or creates) the Badger directory. An empty
// dir selects an in-memory store, for tests and stateless deployments.
func openFingerprintStore(dir string, ttl time.Duration) (*fingerprintStore, error) {
	if ttl <= 0 {
		ttl = defaultFingerprintTTL
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log.WithComponent("fingerprints")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, "registry.fingerprints", err)
	}
	return &fingerprintStore{db: db, ttl: ttl}, nil
}

func (s *fingerprintStore) put(fp, sessionID, trackID string) error {
	now := time.Now().UnixMilli()
	val, err := json.Marshal(fingerprintEntry{
		Fingerprint:   fp,
		SessionID:     sessionID,
		TrackID:       trackID,
		CreatedAt:     now,
		LastTouchedAt: now,
	})
	if err != nil {
		return fault.Wrap(fault.KindInternal, "registry.fingerprints", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(fp), val).WithTTL(s.ttl))
	})
	if err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, "registry.fingerprints", err)
	}
	return nil
}

func (s *fingerprintStore) lookup(fp string) (fingerprintEntry, bool, error) {
	var ent fingerprintEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fp))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ent)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fingerprintEntry{}, false, nil
	}
	if err != nil {
		return fingerprintEntry{}, false, fault.Wrap(fault.KindBackendUnavailable, "registry.fingerprints", err)
	}
	return ent, true, nil
}

// touch rewrites the entry with a fresh TTL so active clients never lose
// their reattachment handle.
func (s *fingerprintStore) touch(fp string, ent fingerprintEntry) {
	ent.LastTouchedAt = time.Now().UnixMilli()
	val, err := json.Marshal(ent)
	if err != nil {
		return
	}
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(fp), val).WithTTL(s.ttl))
	})
}

func (s *fingerprintStore) drop(fp string) {
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(fp))
	})
}

func (s *fingerprintStore) close() error {
	return s.db.Close()
}

// badgerLogger adapts Badger's logging interface onto zerolog. Badger is
// chatty at info level, so everything below errors lands at debug.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.l.Error().Msgf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...any) { b.l.Warn().Msgf(format, args...) }
func (b badgerLogger) Infof(format string, args ...any)    { b.l.Debug().Msgf(format, args...) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.l.Debug().Msgf(format, args...) }
