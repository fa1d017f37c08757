package tools

import (
	"github.com/rs/zerolog/log"
)

type FactoryDependencies struct {
	Plugins []*PluginTool
}

// Factory builds the per-session tool list: the built-in tools followed by
// plugin tools whose names do not collide with a built-in.
type Factory struct {
	plugins []*PluginTool
}

func NewFactory(deps FactoryDependencies) *Factory {
	return &Factory{
		plugins: deps.Plugins,
	}
}

func builtins(session Session) []Capability {
	return []Capability{
		NewSendMessageTool(session),
		NewExecuteCommandTool(),
	}
}

func (f *Factory) Create(session Session) []Capability {
	capabilities := builtins(session)
	builtinCount := len(capabilities)

	taken := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		taken[c.Name()] = true
	}

	pluginCount := 0
	for _, plugin := range f.plugins {
		if taken[plugin.Name()] {
			log.Warn().
				Str("plugin", plugin.PluginID).
				Str("tool", plugin.Name()).
				Msg("Plugin tool shadows a built-in tool, skipping")
			continue
		}

		capabilities = append(capabilities, plugin.Bind(session))
		pluginCount++
	}

	log.Debug().
		Str("session_id", session.SessionID).
		Int("builtin", builtinCount).
		Int("plugin", pluginCount).
		Msg("Created agent tools")

	return capabilities
}
