package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testExecutorOptions struct {
	MaxAttempts int           `cfg:"maxAttempts" def:"5" validate:"min=1"`
	BaseDelay   time.Duration `cfg:"baseDelay" def:"100ms"`
}

type testCacheOptions struct {
	Size int           `cfg:"size" def:"1048576"`
	TTL  time.Duration `cfg:"ttl" def:"10m"`
}

type testOptions struct {
	Driver   string   `cfg:"driver" def:"mysql" validate:"oneof=mysql sqlite3 postgres pq"`
	Database string   `cfg:"database"`
	MaxConns int      `cfg:"maxConns" def:"10"`
	Debug    bool     `cfg:"debug"`
	Tags     []string `cfg:"tags"`

	Executor testExecutorOptions `cfg:"executor"`
	Cache    *testCacheOptions   `cfg:"cache"`
}

func writeFile(t *testing.T, name string, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	files := map[string]string{
		"app.yaml": `
driver: sqlite3
database: test.db
maxConns: 4
debug: true
tags: [a, b]
executor:
  maxAttempts: 3
  baseDelay: 10ms
cache:
  ttl: 1m
`,
		"app.json": `{
  "driver": "sqlite3",
  "database": "test.db",
  "maxConns": 4,
  "debug": true,
  "tags": ["a", "b"],
  "executor": {"maxAttempts": 3, "baseDelay": "10ms"},
  "cache": {"ttl": "1m"}
}`,
		"app.toml": `
driver = "sqlite3"
database = "test.db"
maxConns = 4
debug = true
tags = ["a", "b"]

[executor]
maxAttempts = 3
baseDelay = "10ms"

[cache]
ttl = "1m"
`,
		"app.ini": `
driver = sqlite3
database = test.db
maxConns = 4
debug = true
tags = a, b

[executor]
maxAttempts = 3
baseDelay = 10ms

[cache]
ttl = 1m
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			var options testOptions
			require.NoError(t, LoadFile(writeFile(t, name, content), &options))

			assert.Equal(t, "sqlite3", options.Driver)
			assert.Equal(t, "test.db", options.Database)
			assert.Equal(t, 4, options.MaxConns)
			assert.True(t, options.Debug)
			assert.Equal(t, []string{"a", "b"}, options.Tags)
			assert.Equal(t, 3, options.Executor.MaxAttempts)
			assert.Equal(t, 10*time.Millisecond, options.Executor.BaseDelay)
			require.NotNil(t, options.Cache)
			assert.Equal(t, time.Minute, options.Cache.TTL)
			assert.Equal(t, 1048576, options.Cache.Size)
		})
	}
}

func TestLoadFileDefaults(t *testing.T) {
	var options testOptions
	require.NoError(t, LoadFile(writeFile(t, "app.yaml", "database: x\n"), &options))

	assert.Equal(t, "mysql", options.Driver)
	assert.Equal(t, 10, options.MaxConns)
	assert.Equal(t, 5, options.Executor.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, options.Executor.BaseDelay)
	assert.Nil(t, options.Cache)
}

func TestLoadFileErrors(t *testing.T) {
	var options testOptions

	err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &options)
	assert.Error(t, err)

	err = LoadFile(writeFile(t, "app.xml", "<a/>"), &options)
	assert.Error(t, err)

	err = LoadFile(writeFile(t, "app.yaml", "driver: oracle\n"), &options)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validate failed")

	options = testOptions{}
	err = LoadFile(writeFile(t, "app.yaml", "executor:\n  baseDelay: soon\n"), &options)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "executor.baseDelay")

	options = testOptions{}
	err = LoadFile(writeFile(t, "app.json", `{"maxConns": "many"}`), &options)
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	t.Run("key 不区分大小写", func(t *testing.T) {
		var options testOptions
		require.NoError(t, Convert(map[string]any{"DRIVER": "pq", "MaxConns": int64(7)}, &options))
		assert.Equal(t, "pq", options.Driver)
		assert.Equal(t, 7, options.MaxConns)
	})

	t.Run("map 和时间", func(t *testing.T) {
		var v struct {
			Labels  map[string]int `cfg:"labels"`
			Since   time.Time      `cfg:"since"`
			Timeout time.Duration  `cfg:"timeout"`
			Skip    string         `cfg:"-"`
		}
		require.NoError(t, Convert(map[string]any{
			"labels":  map[string]any{"a": 1, "b": "2"},
			"since":   "2024-01-02",
			"timeout": 1.5,
			"skip":    "x",
		}, &v))
		assert.Equal(t, map[string]int{"a": 1, "b": 2}, v.Labels)
		assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), v.Since)
		assert.Equal(t, 1500*time.Millisecond, v.Timeout)
		assert.Empty(t, v.Skip)
	})

	t.Run("非指针", func(t *testing.T) {
		assert.Error(t, Convert(map[string]any{}, testOptions{}))
	})
}
