// SPDX-License-Identifier: MIT

package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

func TestAcquirePIDFileClaimsAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d", "test.pid")

	require.NoError(t, acquirePIDFile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(raw[:len(raw)-1]))
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	releasePIDFile(path)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAcquirePIDFileRejectsLiveInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	// Our own PID is definitionally alive.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := acquirePIDFile(path)
	require.Error(t, err)
	require.Equal(t, fault.KindUnavailable, fault.KindOf(err))
}

func TestAcquirePIDFileReplacesStaleClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	// Far past pid_max, so the claim is guaranteed stale.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	require.NoError(t, acquirePIDFile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), strconv.Itoa(os.Getpid()))
}

func TestReleasePIDFileIgnoresForeignClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(path, []byte("424242"), 0o644))

	releasePIDFile(path)
	_, err := os.Stat(path)
	require.NoError(t, err, "a foreign pid file must survive release")
}

func TestEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, acquirePIDFile(""))
	releasePIDFile("")
}
