package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, root, dir, manifest string, scripts map[string]string) {
	t.Helper()

	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFile), []byte(manifest), 0o644))

	for name, source := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(pluginDir, name), []byte(source), 0o644))
	}
}

const doubanManifest = `
id: Douban Hot
name: 豆瓣热门
tools:
  - name: douban-hot
    description: List trending titles on Douban
    status: "正在获取豆瓣{kind}榜单"
    script: hot.js
    parameters:
      type: object
      properties:
        kind:
          type: string
          enum: [movie, tv]
        limit:
          type: integer
      required: [kind]
  - name: broken
    description: Script does not compile
    script: broken.js
  - name: ""
    description: missing name
    script: hot.js
  - name: wrong_entry
    description: Entry function missing
    script: hot.js
    function: main
`

const hotScript = `
log("loaded");
function run(args) {
  notify("豆瓣", "fetching " + args.kind);
  var n = args.limit || 2;
  var out = [];
  for (var i = 0; i < n; i++) {
    out.push({rank: i + 1, kind: args.kind});
  }
  return {items: out};
}
`

func TestLoadPlugins(t *testing.T) {
	root := t.TempDir()

	writePlugin(t, root, "douban", doubanManifest, map[string]string{
		"hot.js":    hotScript,
		"broken.js": "function run( {",
	})
	writePlugin(t, root, "garbage", "tools: [", nil)
	writePlugin(t, root, "slow", `
tools:
  - name: spin
    description: Never returns
    script: spin.js
`, map[string]string{"spin.js": "function run() { while (true) {} }"})

	plugins, err := LoadPlugins(root)
	require.NoError(t, err)
	require.Len(t, plugins, 2)

	hot := plugins[0]
	assert.Equal(t, "douban-hot", hot.PluginID)
	assert.Equal(t, "豆瓣热门", hot.PluginName)
	assert.Equal(t, "douban_hot", hot.Name())
	assert.Equal(t, "正在获取豆瓣movie榜单", hot.StatusMessage(map[string]any{"kind": "movie"}))

	schema := SchemaMap(hot.Parameters())
	assert.Equal(t, "object", schema["type"])

	recorder := notify.NewRecorder()
	bound := hot.Bind(Session{UserID: "u", Notifier: recorder})

	t.Run("runs the script", func(t *testing.T) {
		result, err := bound.Run(context.Background(), map[string]any{"kind": "tv", "limit": 1})
		require.NoError(t, err)

		assert.Equal(t, "{\n  \"items\": [\n    {\n      \"kind\": \"tv\",\n      \"rank\": 1\n    }\n  ]\n}", FormatResult(result))
		assert.Equal(t, []string{"fetching tv"}, recorder.Texts())
	})

	t.Run("validates arguments", func(t *testing.T) {
		_, err := bound.Run(context.Background(), map[string]any{"kind": "book"})
		assert.ErrorContains(t, err, "invalid arguments")

		_, err = bound.Run(context.Background(), map[string]any{})
		assert.ErrorContains(t, err, "invalid arguments")
	})

	t.Run("interrupted on cancellation", func(t *testing.T) {
		spin := plugins[1]
		assert.Equal(t, "spin", spin.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := spin.Run(ctx, nil)
		assert.Error(t, err)
	})
}

func TestLoadPlugins_MissingDir(t *testing.T) {
	plugins, err := LoadPlugins(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, plugins)

	plugins, err = LoadPlugins("")
	require.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestFactory_Create(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "clash", `
tools:
  - name: send_message
    description: Shadows the built-in
    script: a.js
  - name: ping
    description: Answers pong
    script: a.js
`, map[string]string{"a.js": `function run() { return "pong"; }`})

	plugins, err := LoadPlugins(root)
	require.NoError(t, err)

	factory := NewFactory(FactoryDependencies{Plugins: plugins})
	capabilities := factory.Create(Session{SessionID: "s"})

	names := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"send_message", "execute_command", "ping"}, names)

	result, err := capabilities[2].Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}
