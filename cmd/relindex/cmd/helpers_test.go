package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testEnv is an isolated relindex home: config, catalog and index data all
// live under one temp dir.
type testEnv struct {
	dir        string
	configPath string
}

func newTestEnv(t *testing.T, backend string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	for _, k := range []string{
		"RELINDEX_BACKEND", "RELINDEX_DATA_DIR", "RELINDEX_TIMEOUT", "RELINDEX_CATALOG",
		"RELINDEX_WORKERS", "RELINDEX_METRICS_TEXTFILE", "RELINDEX_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	syncRetry.MaxRetries = 1
	syncRetry.InitialDelay = time.Millisecond
	syncRetry.Jitter = false

	cfg := fmt.Sprintf(`version: 1
engine:
  backend: %s
  data_dir: %s
  timeout: 10s
catalog:
  path: %s
filter:
  workers: 2
  batch_size: 2
log_level: error
`, backend, filepath.Join(dir, "index"), filepath.Join(dir, "catalog.db"))

	path := filepath.Join(dir, "relindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &testEnv{dir: dir, configPath: path}
}

// run executes the root command with --config prepended.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCmd(t, append([]string{"--config", e.configPath}, args...)...)
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "relindex %v\n%s", args, out)
	return out
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeFile writes content under the env dir and returns its path.
func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const seedCatalog = `{"type":"release","id":1,"name":"Ubuntu.24.04.Desktop-GRP","searchname":"Ubuntu 24 04 Desktop","size":3000000000,"totalpart":60,"categories_id":4020,"files":["ubuntu-24.04-desktop.iso"]}
{"type":"release","id":2,"name":"qwertyuiopasdfghjkl","size":500000000,"totalpart":10,"categories_id":2040}
{"type":"release","id":3,"name":"Ubuntu.24.04.Server-GRP","searchname":"Ubuntu 24 04 Server","size":2000000000,"totalpart":40,"categories_id":4020}
{"type":"predb","id":7,"title":"Ubuntu.24.04.Desktop-GRP","source":"scene"}
{"type":"blacklist","regex":"(?i)trojan","msgcol":1,"description":"malware"}
`
