package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanzoai/gateway/internal/origin"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// writeFakeBinary drops an executable shell script named name into a
// temp dir, prepends that dir to PATH for the test, and returns the
// script path.
func writeFakeBinary(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are POSIX shell scripts")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return path
}

func TestStart_CloudflaredParsesStderrURL(t *testing.T) {
	writeFakeBinary(t, "cloudflared", "#!/bin/sh\n"+
		"echo 'starting tunnel' 1>&2\n"+
		"echo 'https://fuzzy-bear-42.trycloudflare.com' 1>&2\n"+
		"sleep 5\n")

	s := New(origin.NewPolicy(nil))
	start := time.Now()
	handle, err := s.Start(context.Background(), gwmodels.TunnelConfig{
		Provider: gwmodels.TunnelCloudflared,
		Port:     8080,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "wss://fuzzy-bear-42.trycloudflare.com", handle.PublicURL)
	assert.Equal(t, "https://fuzzy-bear-42.trycloudflare.com", handle.PublicOrigin)
	assert.Less(t, elapsed, 3*time.Second)

	handle.Stop()
}

func TestStart_RegistersOriginOnPolicy(t *testing.T) {
	writeFakeBinary(t, "cloudflared", "#!/bin/sh\n"+
		"echo 'https://quiet-river-7.trycloudflare.com' 1>&2\n"+
		"sleep 5\n")

	policy := origin.NewPolicy(nil)
	s := New(policy)
	handle, err := s.Start(context.Background(), gwmodels.TunnelConfig{Provider: gwmodels.TunnelCloudflared, Port: 9000})
	require.NoError(t, err)
	require.NotNil(t, handle)

	d := policy.Check("localhost", "https://quiet-river-7.trycloudflare.com")
	assert.True(t, d.Allowed)

	handle.Stop()

	d = policy.Check("localhost", "https://quiet-river-7.trycloudflare.com")
	assert.False(t, d.Allowed)
}

func TestStart_NoneProviderReturnsNilHandle(t *testing.T) {
	s := New(nil)
	handle, err := s.Start(context.Background(), gwmodels.TunnelConfig{Provider: gwmodels.TunnelNone})
	assert.NoError(t, err)
	assert.Nil(t, handle)
}

func TestStart_SpawnFailureReturnsNilNil(t *testing.T) {
	// No fake "cloudflared" binary on PATH in this test's isolated
	// environment: cmd.Start() fails, Start degrades to (nil, nil).
	t.Setenv("PATH", t.TempDir())
	s := New(nil)
	handle, err := s.Start(context.Background(), gwmodels.TunnelConfig{Provider: gwmodels.TunnelCloudflared, Port: 8080})
	assert.NoError(t, err)
	assert.Nil(t, handle)
}

func TestStop_Idempotent(t *testing.T) {
	writeFakeBinary(t, "cloudflared", "#!/bin/sh\n"+
		"echo 'https://idempotent-test.trycloudflare.com' 1>&2\n"+
		"sleep 5\n")

	s := New(origin.NewPolicy(nil))
	handle, err := s.Start(context.Background(), gwmodels.TunnelConfig{Provider: gwmodels.TunnelCloudflared, Port: 8080})
	require.NoError(t, err)
	require.NotNil(t, handle)

	handle.Stop()
	assert.NotPanics(t, func() { handle.Stop() })
}

func TestDetect_NoneWhenNoBinariesAvailable(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	assert.Equal(t, gwmodels.TunnelNone, Detect())
}

func TestDetect_PicksFirstAvailableInOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ngrok", "zrok"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	}
	t.Setenv("PATH", dir)
	assert.Equal(t, gwmodels.TunnelNgrok, Detect())
}

func TestWsAndOrigin_StripsTrailingSlashAndConverts(t *testing.T) {
	o, ws := wsAndOrigin("https://example.trycloudflare.com/")
	assert.Equal(t, "https://example.trycloudflare.com", o)
	assert.Equal(t, "wss://example.trycloudflare.com", ws)
}
