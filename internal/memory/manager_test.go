package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/moviepilot/mpagent/pkg/cache/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestManager(backend cache.Backend, maxMessages int) (*Manager, *clock) {
	clk := &clock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	manager := NewManager(ManagerDependencies{
		Backend: backend,
		Config: ManagerConfig{
			MaxMessages:          maxMessages,
			RetentionDays:        1,
			BackendRetentionDays: 7,
		},
		Now: clk.Now,
	})

	return manager, clk
}

type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(ctx context.Context, key, region string) ([]byte, error) {
	return nil, errBackendDown
}

func (failingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	return errBackendDown
}

func (failingBackend) Delete(ctx context.Context, key, region string) error {
	return errBackendDown
}

func (failingBackend) Items(ctx context.Context, region string) ([]cache.Item, error) {
	return nil, errBackendDown
}

func (failingBackend) Close(ctx context.Context) error {
	return errBackendDown
}

func TestCapMessages(t *testing.T) {
	sys := func(c string) Message { return Message{Role: RoleSystem, Content: c} }
	usr := func(c string) Message { return Message{Role: RoleUser, Content: c} }

	contentsOf := func(messages []Message) []string {
		out := make([]string, 0, len(messages))
		for _, m := range messages {
			out = append(out, m.Content)
		}
		return out
	}

	tests := []struct {
		name     string
		messages []Message
		max      int
		expected []string
	}{
		{
			name:     "under the cap",
			messages: []Message{usr("1"), usr("2")},
			max:      5,
			expected: []string{"1", "2"},
		},
		{
			name:     "keeps system and newest",
			messages: []Message{usr("1"), sys("s"), usr("2"), usr("3"), usr("4")},
			max:      3,
			expected: []string{"s", "3", "4"},
		},
		{
			name:     "more system messages than the cap",
			messages: []Message{sys("s1"), sys("s2"), sys("s3"), usr("1")},
			max:      2,
			expected: []string{"s1", "s2", "s3"},
		},
		{
			name:     "zero disables the cap",
			messages: []Message{usr("1"), usr("2")},
			max:      0,
			expected: []string{"1", "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, contentsOf(capMessages(tt.messages, tt.max)))
		})
	}
}

func TestManager_AddConversation_Cap(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(inmemory.New(), 5)

	manager.AddConversation(ctx, "s1", "u1", RoleSystem, "summary", nil)
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAgent
		}
		manager.AddConversation(ctx, "s1", "u1", role, fmt.Sprintf("m%d", i), nil)

		memory := manager.GetConversation(ctx, "s1", "u1")
		assert.LessOrEqual(t, len(memory.Messages), 5)
		assert.Equal(t, RoleSystem, memory.Messages[0].Role)
	}

	memory := manager.GetConversation(ctx, "s1", "u1")
	require.Len(t, memory.Messages, 5)

	contents := make([]string, 0, 5)
	for _, m := range memory.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"summary", "m6", "m7", "m8", "m9"}, contents)
}

func TestManager_BackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()

	writer, _ := newTestManager(backend, 30)
	writer.AddConversation(ctx, "s1", "u1", RoleUser, "找一下沙丘", nil)
	writer.AddConversation(ctx, "s1", "u1", RoleToolCall, "", map[string]any{
		MetadataCallID:     "call_1",
		MetadataToolName:   "search_media",
		MetadataParameters: map[string]any{"title": "沙丘"},
	})
	writer.SetTitle(ctx, "s1", "u1", "Dune")

	_, err := backend.Get(ctx, "agent_memory:u1:s1", Region)
	require.NoError(t, err)

	// a fresh manager only sees the backend copy
	reader, _ := newTestManager(backend, 30)
	memory := reader.GetConversation(ctx, "s1", "u1")

	assert.Equal(t, "s1", memory.SessionID)
	assert.Equal(t, "u1", memory.UserID)
	assert.Equal(t, "Dune", memory.Title)
	assert.NotNil(t, memory.Context)
	require.Len(t, memory.Messages, 2)
	assert.Equal(t, RoleUser, memory.Messages[0].Role)
	assert.Equal(t, "找一下沙丘", memory.Messages[0].Content)
	assert.Equal(t, "call_1", memory.Messages[1].MetadataString(MetadataCallID))
	assert.Equal(t, map[string]any{"title": "沙丘"}, memory.Messages[1].Parameters())
}

func TestManager_KeysWithoutUser(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()
	manager, _ := newTestManager(backend, 30)

	manager.AddConversation(ctx, "s2", "", RoleUser, "hi", nil)

	_, err := backend.Get(ctx, "agent_memory:s2", Region)
	require.NoError(t, err)
	assert.Len(t, manager.RecentMessagesForAgent("s2", ""), 0)
	assert.Empty(t, manager.RecentMessagesForAgent("s2", "someone"))
}

func TestManager_RecentMessagesForAgent(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(nil, 30)

	assert.Empty(t, manager.RecentMessagesForAgent("missing", "u"))

	manager.AddConversation(ctx, "s", "u", RoleUser, "first", nil)
	manager.AddConversation(ctx, "s", "u", RoleAgent, "answer", nil)
	manager.AddConversation(ctx, "s", "u", RoleUser, "second", nil)

	recent := manager.RecentMessagesForAgent("s", "u")
	require.Len(t, recent, 2)
	assert.Equal(t, "first", recent[0].Content)
	assert.Equal(t, "answer", recent[1].Content)
}

func TestManager_GetRecentMessages(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(nil, 30)

	manager.AddConversation(ctx, "s", "u", RoleUser, "u1", nil)
	manager.AddConversation(ctx, "s", "u", RoleAgent, "a1", nil)
	manager.AddConversation(ctx, "s", "u", RoleUser, "u2", nil)
	manager.AddConversation(ctx, "s", "u", RoleAgent, "a2", nil)

	last := manager.GetRecentMessages(ctx, "s", "u", 2)
	require.Len(t, last, 2)
	assert.Equal(t, "u2", last[0].Content)

	users := manager.GetRecentMessages(ctx, "s", "u", 10, RoleUser)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].Content)
	assert.Equal(t, "u2", users[1].Content)
}

func TestManager_ClearMemory(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()
	manager, _ := newTestManager(backend, 30)

	manager.AddConversation(ctx, "s", "u", RoleUser, "hello", nil)
	manager.ClearMemory(ctx, "s", "u")

	_, err := backend.Get(ctx, "agent_memory:u:s", Region)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Empty(t, manager.RecentMessagesForAgent("s", "u"))
	assert.Empty(t, manager.GetConversation(ctx, "s", "u").Messages)
}

func TestManager_ListSessions(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()
	manager, clk := newTestManager(backend, 30)

	manager.AddConversation(ctx, "old", "u1", RoleUser, "a", nil)
	clk.Advance(time.Minute)
	manager.AddConversation(ctx, "new", "u1", RoleUser, "b", nil)
	manager.SetTitle(ctx, "new", "u1", "Latest")
	clk.Advance(time.Minute)
	manager.AddConversation(ctx, "other", "u2", RoleUser, "c", nil)

	// only in the backend
	stale := NewConversationMemory("archived", "u1", clk.Now().Add(-time.Hour))
	stale.Messages = []Message{{Role: RoleUser, Content: "x"}, {Role: RoleAgent, Content: "y"}}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, "agent_memory:u1:archived", data, time.Hour, Region))

	sessions := manager.ListSessions(ctx, "u1", 10)
	require.Len(t, sessions, 3)
	assert.Equal(t, "new", sessions[0].SessionID)
	assert.Equal(t, "Latest", sessions[0].Title)
	assert.Equal(t, "old", sessions[1].SessionID)
	assert.Equal(t, DefaultTitle, sessions[1].Title)
	assert.Equal(t, "archived", sessions[2].SessionID)
	assert.Equal(t, 2, sessions[2].MessageCount)

	all := manager.ListSessions(ctx, "", 2)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[0].SessionID)
}

func TestManager_EvictExpired(t *testing.T) {
	ctx := context.Background()
	manager, clk := newTestManager(nil, 30)

	manager.AddConversation(ctx, "idle", "u", RoleUser, "a", nil)
	clk.Advance(36 * time.Hour)
	manager.AddConversation(ctx, "active", "u", RoleUser, "b", nil)

	// idle for one and a half days, which is not more than one whole day
	manager.EvictExpired()
	assert.Len(t, manager.ListSessions(ctx, "u", 10), 2)

	clk.Advance(13 * time.Hour)
	manager.EvictExpired()

	sessions := manager.ListSessions(ctx, "u", 10)
	require.Len(t, sessions, 1)
	assert.Equal(t, "active", sessions[0].SessionID)
}

func TestManager_BackendFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(failingBackend{}, 30)

	assert.NotPanics(t, func() {
		manager.AddConversation(ctx, "s", "u", RoleUser, "hello", nil)
		manager.ClearMemory(ctx, "s", "u")
		manager.AddConversation(ctx, "s", "u", RoleUser, "again", nil)
	})

	memory := manager.GetConversation(ctx, "s", "u")
	require.Len(t, memory.Messages, 1)
	assert.Equal(t, "again", memory.Messages[0].Content)
	assert.Len(t, manager.ListSessions(ctx, "u", 10), 1)
}

func TestManager_InitializeAndClose(t *testing.T) {
	manager, _ := newTestManager(inmemory.New(), 30)

	require.NoError(t, manager.Initialize(context.Background()))
	require.NoError(t, manager.Initialize(context.Background()))
	require.NoError(t, manager.Close(context.Background()))
}

func TestManager_ConcurrentReadsDuringTurn(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(inmemory.New(), 10)

	manager.AddConversation(ctx, "s1", "u1", RoleUser, "hi", nil)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			manager.AddConversation(ctx, "s1", "u1", RoleAgent, fmt.Sprintf("reply %d", i), nil)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			manager.GetTitle(ctx, "s1", "u1")
			manager.GetRecentMessages(ctx, "s1", "u1", 5)
		}
	}()

	wg.Wait()

	assert.Len(t, manager.GetConversation(ctx, "s1", "u1").Messages, 10)
}
