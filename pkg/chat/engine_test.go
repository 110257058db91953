package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpscholar/wp-mcp/pkg/history"
	"github.com/wpscholar/wp-mcp/pkg/llm"
	"github.com/wpscholar/wp-mcp/pkg/ratelimit"
	"github.com/wpscholar/wp-mcp/pkg/tools"
)

// fakeProvider replays scripted completions and records every request. The
// optional hook runs after the nth call is scripted but before it returns.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*llm.Completion
	errs      []error
	requests  []llm.Request
	hook      func(call int)
}

func (p *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	hook := p.hook

	var completion *llm.Completion
	var err error
	if i < len(p.errs) && p.errs[i] != nil {
		err = p.errs[i]
	} else if i < len(p.responses) {
		completion = p.responses[i]
	} else {
		completion = &llm.Completion{Text: "fallback"}
	}
	p.mu.Unlock()

	if hook != nil {
		hook(i)
	}
	return completion, err
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) request(i int) llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// blockingProvider parks in Complete until the turn context is cancelled.
type blockingProvider struct {
	entered chan struct{}
}

func (p *blockingProvider) Complete(ctx context.Context, _ llm.Request) (*llm.Completion, error) {
	close(p.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Name() string { return "blocking" }

// fakeExecutor serves a fixed catalog with per-tool handlers.
type fakeExecutor struct {
	defs     []tools.Definition
	listErr  error
	handlers map[string]func(args map[string]any) (tools.Result, error)
}

func (f *fakeExecutor) ListTools(_ context.Context) ([]tools.Definition, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.defs, nil
}

func (f *fakeExecutor) Call(_ context.Context, name string, args map[string]any) (tools.Result, error) {
	handler, ok := f.handlers[name]
	if !ok {
		return tools.Result{}, tools.ErrToolNotFound
	}
	return handler(args)
}

type fakeIdentity struct {
	allowed bool
	err     error
}

func (f fakeIdentity) CanUseChat(_ context.Context, _ string) (bool, error) {
	return f.allowed, f.err
}

func setupTestEngine(t *testing.T, opts Options) (*Engine, *history.Store) {
	t.Helper()

	store, err := history.Open(history.Options{
		Path:   filepath.Join(t.TempDir(), "chat.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts.History = store
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New()
	}
	if opts.Executor == nil {
		opts.Executor = &fakeExecutor{}
	}
	if opts.Identity == nil {
		opts.Identity = fakeIdentity{allowed: true}
	}
	opts.Logger = zerolog.Nop()

	engine, err := NewEngine(opts)
	require.NoError(t, err)
	return engine, store
}

func turnParams() TurnParams {
	return TurnParams{SessionID: "session-1", UserID: "alice", Prompt: "hello"}
}

func TestEngine_PlainTextTurn(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{
		{Text: "Hi there!", Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	engine, store := setupTestEngine(t, Options{Provider: provider})

	result, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", result.Reply.Content)
	assert.Equal(t, history.RoleAssistant, result.Reply.Role)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, result.Usage.InputTokens)

	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, history.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, history.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hi there!", messages[1].Content)
}

func TestEngine_ContextWindowExcludesCurrentPrompt(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{
		{Text: "first"},
		{Text: "second"},
	}}
	engine, _ := setupTestEngine(t, Options{Provider: provider, Config: Config{ContextWindow: 10}})

	_, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)

	params := turnParams()
	params.Prompt = "and again"
	_, err = engine.RunTurn(context.Background(), params)
	require.NoError(t, err)

	// The second request carries the prior turn plus the new prompt once.
	req := provider.request(1)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "hello", req.Messages[0].Content)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "and again", req.Messages[2].Content)
}

func TestEngine_ToolCallsPreserveOrder(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "call-a", Name: "alpha", Arguments: map[string]any{"n": 1}},
		{ID: "call-b", Name: "broken"},
		{ID: "call-c", Name: "gamma"},
	}
	provider := &fakeProvider{responses: []*llm.Completion{
		{Text: "Working on it.", ToolCalls: calls},
		{Text: "All done.", Usage: &llm.Usage{OutputTokens: 7}},
	}}
	executor := &fakeExecutor{handlers: map[string]func(map[string]any) (tools.Result, error){
		"alpha": func(map[string]any) (tools.Result, error) {
			return tools.Result{Content: "result A"}, nil
		},
		"broken": func(map[string]any) (tools.Result, error) {
			return tools.Result{}, errors.New("broken tool")
		},
		"gamma": func(map[string]any) (tools.Result, error) {
			time.Sleep(10 * time.Millisecond) // finish out of submission order
			return tools.Result{Content: "result C"}, nil
		},
	}}
	engine, store := setupTestEngine(t, Options{Provider: provider, Executor: executor})

	result, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)
	assert.Equal(t, "All done.", result.Reply.Content)

	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	reply := messages[1]
	require.Len(t, reply.ToolCalls, 3)
	assert.Equal(t, "alpha", reply.ToolCalls[0].Name)
	assert.Equal(t, "broken", reply.ToolCalls[1].Name)
	assert.Equal(t, "gamma", reply.ToolCalls[2].Name)

	require.Len(t, reply.ToolResults, 3)
	assert.Equal(t, "call-a", reply.ToolResults[0].CallID)
	assert.Equal(t, "result A", reply.ToolResults[0].Content)
	assert.True(t, reply.ToolResults[1].Failed())
	assert.Equal(t, "call-c", reply.ToolResults[2].CallID)
	assert.Equal(t, "result C", reply.ToolResults[2].Content)

	// The follow-up request carries the tool outputs but no catalog.
	followUp := provider.request(1)
	assert.Empty(t, followUp.Tools)
	last := followUp.Messages[len(followUp.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call-c", last.ToolCallID)
}

func TestEngine_SummarizationFailureKeepsOriginalReply(t *testing.T) {
	provider := &fakeProvider{
		responses: []*llm.Completion{
			{Text: "Let me check.", ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "alpha"}}},
			nil,
		},
		errs: []error{nil, errors.New("provider hiccup")},
	}
	executor := &fakeExecutor{handlers: map[string]func(map[string]any) (tools.Result, error){
		"alpha": func(map[string]any) (tools.Result, error) {
			return tools.Result{Content: "result A"}, nil
		},
	}}
	engine, store := setupTestEngine(t, Options{Provider: provider, Executor: executor})

	result, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", result.Reply.Content)

	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Len(t, messages[1].ToolResults, 1)
	assert.Equal(t, "result A", messages[1].ToolResults[0].Content)
}

func TestEngine_AllToolCallsFailedSkipsSummarization(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{
		{Text: "Trying.", ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "broken"}}},
	}}
	executor := &fakeExecutor{handlers: map[string]func(map[string]any) (tools.Result, error){
		"broken": func(map[string]any) (tools.Result, error) {
			return tools.Result{}, errors.New("broken tool")
		},
	}}
	engine, _ := setupTestEngine(t, Options{Provider: provider, Executor: executor})

	result, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)
	assert.Equal(t, "Trying.", result.Reply.Content)
	assert.True(t, result.Reply.ToolResults[0].Failed())
	assert.Equal(t, 1, provider.callCount())
}

func TestEngine_Unauthorized(t *testing.T) {
	provider := &fakeProvider{}
	engine, store := setupTestEngine(t, Options{Provider: provider, Identity: fakeIdentity{allowed: false}})

	_, err := engine.RunTurn(context.Background(), turnParams())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, provider.callCount())

	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestEngine_RateLimited(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{{Text: "ok"}}}
	engine, _ := setupTestEngine(t, Options{
		Provider: provider,
		Config:   Config{RateLimitRequests: 1, RateLimitWindow: time.Minute},
	})

	_, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)

	_, err = engine.RunTurn(context.Background(), turnParams())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestEngine_ProviderFailureLeavesUserMessage(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("upstream down")}}
	engine, store := setupTestEngine(t, Options{Provider: provider})

	_, err := engine.RunTurn(context.Background(), turnParams())
	assert.ErrorIs(t, err, ErrCompletionUnavailable)

	// The user's prompt survives the failed turn.
	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, history.RoleUser, messages[0].Role)
}

func TestEngine_ListToolsFailureDegradesToToollessTurn(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{{Text: "no tools needed"}}}
	executor := &fakeExecutor{listErr: errors.New("catalog unavailable")}
	engine, _ := setupTestEngine(t, Options{Provider: provider, Executor: executor})

	result, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)
	assert.Equal(t, "no tools needed", result.Reply.Content)
	assert.Empty(t, provider.request(0).Tools)
}

func TestEngine_AbortCancelsTurn(t *testing.T) {
	provider := &blockingProvider{entered: make(chan struct{})}
	engine, store := setupTestEngine(t, Options{Provider: provider})

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunTurn(context.Background(), turnParams())
		done <- err
	}()

	select {
	case <-provider.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}
	assert.True(t, engine.IsRunning("session-1"))

	engine.Abort("session-1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish after abort")
	}
	assert.False(t, engine.IsRunning("session-1"))

	// Only the user's prompt was persisted.
	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, history.RoleUser, messages[0].Role)
}

func TestEngine_AbortBeforeFinalPersistReturnsCancelled(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{
		{Text: "Working.", ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "alpha"}}},
		{Text: "All done."},
	}}
	executor := &fakeExecutor{handlers: map[string]func(map[string]any) (tools.Result, error){
		"alpha": func(map[string]any) (tools.Result, error) {
			return tools.Result{Content: "result A"}, nil
		},
	}}
	engine, store := setupTestEngine(t, Options{Provider: provider, Executor: executor})

	// Abort lands after the summarization call succeeds, so the engine is
	// left to persist the reply on an already-cancelled context.
	provider.hook = func(call int) {
		if call == 1 {
			engine.Abort("session-1")
		}
	}

	_, err := engine.RunTurn(context.Background(), turnParams())
	assert.ErrorIs(t, err, ErrCancelled)

	messages, err := store.Read(context.Background(), "session-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, history.RoleUser, messages[0].Role)
}

func TestEngine_AbortUnknownSessionIsNoOp(t *testing.T) {
	engine, _ := setupTestEngine(t, Options{Provider: &fakeProvider{}})
	engine.Abort("no-such-session")
	assert.False(t, engine.IsRunning("no-such-session"))
}

func TestEngine_ValidatesParams(t *testing.T) {
	engine, _ := setupTestEngine(t, Options{Provider: &fakeProvider{}})
	ctx := context.Background()

	tests := []struct {
		name   string
		params TurnParams
	}{
		{"missing session", TurnParams{UserID: "alice", Prompt: "hi"}},
		{"missing user", TurnParams{SessionID: "s", Prompt: "hi"}},
		{"missing prompt", TurnParams{SessionID: "s", UserID: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.RunTurn(ctx, tt.params)
			assert.Error(t, err)
		})
	}
}

func TestEngine_DefaultsApplied(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Completion{{Text: "ok"}}}
	engine, _ := setupTestEngine(t, Options{Provider: provider})

	_, err := engine.RunTurn(context.Background(), turnParams())
	require.NoError(t, err)

	// A zero config still sends a usable token limit to the provider.
	req := provider.request(0)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestEngine_NoProviderConfigured(t *testing.T) {
	engine, _ := setupTestEngine(t, Options{})

	_, err := engine.RunTurn(context.Background(), turnParams())
	assert.ErrorIs(t, err, ErrCompletionUnavailable)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Options{})
	assert.Error(t, err)
}
