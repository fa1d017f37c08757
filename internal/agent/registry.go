// Package agent runs conversational turns: a SessionAgent per session, the
// registry that owns them and the mediator that records tool calls.
package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type RegistryDependencies struct {
	Session SessionDependencies
}

// Registry maps session ids to live agents. Agents are created on first use
// and removed only by ClearSession or Close.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*SessionAgent

	deps   SessionDependencies
	memory *memory.Manager
}

func NewRegistry(deps RegistryDependencies) *Registry {
	return &Registry{
		agents: make(map[string]*SessionAgent),
		deps:   deps.Session,
		memory: deps.Session.Memory,
	}
}

func (r *Registry) Initialize(ctx context.Context) error {
	return r.memory.Initialize(ctx)
}

// Close stops the memory expiry task and cleans up every live agent
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	agents := make([]*SessionAgent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.agents = make(map[string]*SessionAgent)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.memory.Close(ctx)
	})

	for _, a := range agents {
		g.Go(func() error {
			a.Cleanup()
			return nil
		})
	}

	return g.Wait()
}

func (r *Registry) agent(sessionID, userID, channel, source, username string) *SessionAgent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[sessionID]; ok {
		a.Refresh(userID, channel, source, username)
		return a
	}

	log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("Creating session agent")

	a := NewSessionAgent(r.deps, Identity{
		SessionID: sessionID,
		UserID:    userID,
		Channel:   channel,
		Source:    source,
		Username:  username,
	})
	r.agents[sessionID] = a

	return a
}

func (r *Registry) ProcessMessage(ctx context.Context, sessionID, userID, message, channel, source, username string) string {
	return r.agent(sessionID, userID, channel, source, username).ProcessMessage(ctx, message)
}

// ClearSession drops the live agent, if any, and the session memory
func (r *Registry) ClearSession(ctx context.Context, sessionID, userID string) {
	r.mu.Lock()
	a, ok := r.agents[sessionID]
	delete(r.agents, sessionID)
	r.mu.Unlock()

	if ok {
		a.Cleanup()
	}

	r.memory.ClearMemory(ctx, sessionID, userID)

	log.Info().Str("session_id", sessionID).Msg("Session memory cleared")
}

// Sessions lists the ids of live agents
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (r *Registry) Memory() *memory.Manager {
	return r.memory
}
