package relay

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderScript_EmbedsValues(t *testing.T) {
	src, err := RenderScript(51234, "sk-ant-abc")
	require.NoError(t, err)
	s := string(src)

	assert.Contains(t, s, "const PORT = 51234;")
	assert.Contains(t, s, `const API_KEY = "sk-ant-abc";`)
	assert.Contains(t, s, `const UPSTREAM_HOST = "api.anthropic.com";`)
	assert.Contains(t, s, `const API_VERSION = "2023-06-01";`)
	assert.Contains(t, s, `"`+ListeningMarker+`"`)
	assert.Contains(t, s, `"`+FatalMarker+`"`)
	assert.Contains(t, s, "const FORCE_EXIT_MS = 1000;")
	assert.Contains(t, s, "'127.0.0.1'")
}

func TestRenderScript_UpstreamErrorHandling(t *testing.T) {
	src, err := RenderScript(1, "x")
	require.NoError(t, err)
	s := string(src)

	// A failure mid-stream aborts the response instead of appending JSON.
	destroy := strings.Index(s, "res.destroy(err)")
	proxyErr := strings.Index(s, "'Proxy error: '")
	require.Positive(t, destroy)
	require.Positive(t, proxyErr)
	assert.Less(t, destroy, proxyErr)
	assert.Contains(t, s, "if (res.headersSent) {")
}

func TestRenderScript_EscapesSecret(t *testing.T) {
	secret := "a\"b'c\\d\n</script>"
	src, err := RenderScript(1, secret)
	require.NoError(t, err)

	line := ""
	for _, l := range strings.Split(string(src), "\n") {
		if strings.HasPrefix(l, "const API_KEY") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Equal(t, `const API_KEY = "a\"b'c\\d\n\u003c/script\u003e";`, line)
}

func TestWriteScript_OwnerOnly(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, ScriptName)
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	path, err := WriteScript(dir, 51889, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, existing, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sk-test"`)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
}

func TestWriteScript_MissingDir(t *testing.T) {
	_, err := WriteScript(filepath.Join(t.TempDir(), "absent"), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write relay script")
}
