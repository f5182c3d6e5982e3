// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/persistence/sqlite"
)

func writeCatalogFixture(t *testing.T, path string, n int) {
	t.Helper()
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tracks (
		identifier TEXT PRIMARY KEY,
		title TEXT, artist TEXT, album TEXT, year INTEGER,
		cover_url TEXT, duration_ms INTEGER, path TEXT, features TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM tracks`)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		feats, err := json.Marshal(map[string]float64{
			"bpm":    float64(90 + i*5),
			"energy": 0.2 + 0.05*float64(i),
		})
		require.NoError(t, err)
		_, err = db.Exec(
			`INSERT INTO tracks VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fmt.Sprintf("%032x", i+1),
			fmt.Sprintf("track %d", i),
			fmt.Sprintf("artist %d", i%3),
			"album", 2020, "", 240000, fmt.Sprintf("/music/%d.flac", i),
			string(feats))
		require.NoError(t, err)
	}
}

func testAppConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.db")
	writeCatalogFixture(t, dbPath, 6)

	return config.AppConfig{
		Listen:  "127.0.0.1:0",
		DataDir: dir,
		PIDFile: filepath.Join(dir, "tsnotfyi.pid"),
		Catalog: config.CatalogSettings{
			DBPath:    dbPath,
			StatePath: filepath.Join(dir, "state.db"),
		},
		Mixer: config.MixerSettings{
			SampleRate:        44100,
			Channels:          2,
			FrameDuration:     20 * time.Millisecond,
			CrossfadeLead:     5 * time.Second,
			ClientQueueFrames: 64,
		},
		Session: config.SessionSettings{
			HeartbeatInterval: 5 * time.Second,
			IdleTTL:           time.Hour,
			SweepInterval:     time.Hour,
			HistorySize:       8,
			PrepareTimeout:    8 * time.Second,
			PrepareRetries:    3,
			EventQueueLen:     64,
		},
		Explorer: config.ExplorerSettings{
			SampleCount: 5,
			Resolution:  "adaptive",
			CacheTTL:    time.Minute,
		},
		Cache: config.CacheSettings{Backend: "memory"},
	}
}

func TestNewLoadsCatalogIntoIndex(t *testing.T) {
	cfg := testAppConfig(t)
	app, err := New(config.NewHolder(cfg, ""), "test")
	require.NoError(t, err)
	defer app.closeStores()
	defer app.registry.Shutdown()

	require.Equal(t, 6, app.Index().Len())
	require.Equal(t, uint64(1), app.Index().Epoch())
	require.NotNil(t, app.stateStore)
}

func TestReloadCatalogBumpsEpochAndKeepsOldOnFailure(t *testing.T) {
	cfg := testAppConfig(t)
	app, err := New(config.NewHolder(cfg, ""), "test")
	require.NoError(t, err)
	defer app.closeStores()
	defer app.registry.Shutdown()

	writeCatalogFixture(t, cfg.Catalog.DBPath, 9)
	app.reloadCatalog()
	require.Equal(t, 9, app.Index().Len())
	require.Equal(t, uint64(2), app.Index().Epoch())

	// A broken database leaves the previous index in place.
	require.NoError(t, os.WriteFile(cfg.Catalog.DBPath, []byte("not sqlite"), 0o644))
	app.reloadCatalog()
	require.Equal(t, 9, app.Index().Len())
	require.Equal(t, uint64(2), app.Index().Epoch())
}

func TestRunClaimsPIDFileAndStopsCleanly(t *testing.T) {
	cfg := testAppConfig(t)
	app, err := New(config.NewHolder(cfg, ""), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(cfg.PIDFile)
		return err == nil && len(raw) > 0
	}, 3*time.Second, 20*time.Millisecond, "pid file never appeared")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, statErr := os.Stat(cfg.PIDFile)
	require.True(t, os.IsNotExist(statErr), "pid file must be released")
}

func TestMissingCatalogFailsFast(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Catalog.DBPath = filepath.Join(t.TempDir(), "nope.db")
	_, err := New(config.NewHolder(cfg, ""), "test")
	require.Error(t, err)
}
