package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boendestodet/r3kt.dev-sub000/deploy"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

// testConfig writes a config that keeps everything inside a temp dir, with
// docker and every AI provider turned off.
func testConfig(t *testing.T) string {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "R3KT_OPENAI_API_KEY",
		"ANTHROPIC_API_KEY", "R3KT_ANTHROPIC_API_KEY",
		"GEMINI_API_KEY", "R3KT_GEMINI_API_KEY",
		"R3KT_DOCKER_ENABLED", "R3KT_CLOUDFLARE_ENABLED",
		"R3KT_DATABASE_PATH", "R3KT_PROJECTS_DIR",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "r3kt.yaml")
	yaml := fmt.Sprintf(`database_path: %s
projects_dir: %s
log:
  level: error
runtime:
  docker_enabled: false
`, filepath.Join(dir, "r3kt.db"), filepath.Join(dir, "projects"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "r3kt dev")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, deploy.Result{Success: true, Message: "project deployed", Port: 3100}))
	assert.Contains(t, buf.String(), `"port": 3100`)

	buf.Reset()
	err := printResult(&buf, deploy.Result{Message: "container nope not found"})
	assert.EqualError(t, err, "container nope not found")
	assert.Contains(t, buf.String(), `"success": false`)
}

func TestOpsRouter(t *testing.T) {
	srv := httptest.NewServer(opsRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateWithoutProviders(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, "--config", cfg, "--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"generate", "--project", "coffee", "--stack", "static", "A blog about coffee")
	require.NoError(t, err, out)

	var got generateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Request)
	assert.Equal(t, types.RequestCompleted, got.Request.Status)
	assert.Equal(t, "mock", got.Request.Metadata.Provider)
	assert.Equal(t, "static", got.Request.Metadata.StackType)
	assert.Contains(t, got.Request.Result.Files, "index.html")
	assert.Nil(t, got.Container)
}

func TestStatusUnknownContainer(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, "--config", cfg, "status", "nope")
	assert.Error(t, err)
	assert.Contains(t, out, `"success": false`)
}
