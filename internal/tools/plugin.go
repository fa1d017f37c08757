package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	ManifestFile    = "plugin.yaml"
	defaultFunction = "run"
)

type pluginManifest struct {
	ID    string               `yaml:"id"`
	Name  string               `yaml:"name"`
	Tools []pluginToolManifest `yaml:"tools"`
}

type pluginToolManifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	// Status is shown while the tool runs; {field} is replaced by the argument
	Status   string `yaml:"status"`
	Script   string `yaml:"script"`
	Function string `yaml:"function"`
}

// PluginTool runs a JavaScript function shipped by a plugin. Every call gets a
// fresh runtime; the compiled program is shared.
type PluginTool struct {
	PluginID   string
	PluginName string

	name        string
	description string
	status      string
	function    string
	schema      *jsonschema.Schema
	validator   *validator.Schema
	program     *goja.Program

	session Session
}

func (t *PluginTool) Name() string {
	return t.name
}

func (t *PluginTool) Description() string {
	return t.description
}

func (t *PluginTool) Parameters() *jsonschema.Schema {
	return t.schema
}

func (t *PluginTool) StatusMessage(args map[string]any) string {
	if t.status == "" {
		return ""
	}

	pairs := make([]string, 0, len(args)*2)
	for key, value := range args {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(value))
	}

	return strings.NewReplacer(pairs...).Replace(t.status)
}

// Bind returns a copy of the tool acting for session
func (t *PluginTool) Bind(session Session) *PluginTool {
	bound := *t
	bound.session = session

	return &bound
}

func (t *PluginTool) Run(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}

	if err := t.validateArgs(args); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := t.installHost(ctx, vm); err != nil {
		return nil, err
	}

	if _, err := vm.RunProgram(t.program); err != nil {
		return nil, fmt.Errorf("plugin script failed: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(t.function))
	if !ok {
		return nil, fmt.Errorf("plugin script does not define function %s", t.function)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := fn(goja.Undefined(), vm.ToValue(args))
	if err != nil {
		return nil, err
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}

	return value.Export(), nil
}

// validateArgs checks arguments against the manifest schema. The validator
// expects values shaped like decoded JSON.
func (t *PluginTool) validateArgs(args map[string]any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}

	var decoded any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}

	if err := t.validator.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

func (t *PluginTool) installHost(ctx context.Context, vm *goja.Runtime) error {
	logger := log.With().Str("plugin", t.PluginID).Str("tool", t.name).Logger()

	if err := vm.Set("log", func(message string) {
		logger.Info().Msg(message)
	}); err != nil {
		return err
	}

	return vm.Set("notify", func(title, text string) bool {
		if err := t.session.Notify(ctx, title, text); err != nil {
			logger.Warn().Err(err).Msg("Plugin notification failed")
			return false
		}
		return true
	})
}

// LoadPlugins reads every <dir>/*/plugin.yaml. Plugins and tools that fail
// validation are skipped with a warning. A missing dir yields no tools.
func LoadPlugins(dir string) ([]*PluginTool, error) {
	if dir == "" {
		return nil, nil
	}

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	manifests, err := filepath.Glob(filepath.Join(dir, "*", ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	sort.Strings(manifests)

	var tools []*PluginTool
	seen := make(map[string]bool)

	for _, manifestPath := range manifests {
		pluginTools, err := loadPlugin(manifestPath)
		if err != nil {
			log.Warn().Err(err).Str("manifest", manifestPath).Msg("Skipping plugin")
			continue
		}

		for _, t := range pluginTools {
			if seen[t.name] {
				log.Warn().Str("plugin", t.PluginID).Str("tool", t.name).Msg("Skipping duplicate plugin tool")
				continue
			}
			seen[t.name] = true
			tools = append(tools, t)
		}
	}

	return tools, nil
}

func loadPlugin(manifestPath string) ([]*PluginTool, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}

	var manifest pluginManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	pluginDir := filepath.Dir(manifestPath)

	pluginID := manifest.ID
	if pluginID == "" {
		pluginID = filepath.Base(pluginDir)
	}
	pluginID = slug.Make(pluginID)

	pluginName := manifest.Name
	if pluginName == "" {
		pluginName = pluginID
	}

	var tools []*PluginTool

	for _, toolManifest := range manifest.Tools {
		t, err := buildPluginTool(pluginDir, pluginID, pluginName, toolManifest)
		if err != nil {
			log.Warn().
				Err(err).
				Str("plugin", pluginID).
				Str("tool", toolManifest.Name).
				Msg("Skipping invalid plugin tool")
			continue
		}

		log.Debug().Str("plugin", pluginID).Str("tool", t.name).Msg("Plugin tool loaded")
		tools = append(tools, t)
	}

	return tools, nil
}

// ToolName normalizes a manifest tool name into the identifier form models
// accept
func ToolName(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

func buildPluginTool(pluginDir, pluginID, pluginName string, manifest pluginToolManifest) (*PluginTool, error) {
	name := ToolName(manifest.Name)
	if name == "" {
		return nil, errors.New("tool name is required")
	}

	if strings.TrimSpace(manifest.Description) == "" {
		return nil, errors.New("tool description is required")
	}

	params := manifest.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	if params["type"] != "object" {
		return nil, errors.New("tool parameters must be an object schema")
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(paramsJSON, &schema); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	compiler := validator.NewCompiler()
	resource := fmt.Sprintf("%s/%s.json", pluginID, name)
	if err := compiler.AddResource(resource, bytes.NewReader(paramsJSON)); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	if manifest.Script == "" {
		return nil, errors.New("tool script is required")
	}

	scriptPath := filepath.Join(pluginDir, filepath.Clean("/"+manifest.Script))
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	program, err := goja.Compile(manifest.Script, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	function := manifest.Function
	if function == "" {
		function = defaultFunction
	}

	// the script must define the entry function at top level
	vm := goja.New()
	probe := &PluginTool{PluginID: pluginID, name: name}
	if err := probe.installHost(context.Background(), vm); err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("script failed to load: %w", err)
	}
	if _, ok := goja.AssertFunction(vm.Get(function)); !ok {
		return nil, fmt.Errorf("script does not define function %s", function)
	}

	return &PluginTool{
		PluginID:    pluginID,
		PluginName:  pluginName,
		name:        name,
		description: manifest.Description,
		status:      manifest.Status,
		function:    function,
		schema:      &schema,
		validator:   compiled,
		program:     program,
	}, nil
}
