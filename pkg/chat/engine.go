package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wpscholar/wp-mcp/internal/observability"
	"github.com/wpscholar/wp-mcp/pkg/history"
	"github.com/wpscholar/wp-mcp/pkg/llm"
	"github.com/wpscholar/wp-mcp/pkg/ratelimit"
	"github.com/wpscholar/wp-mcp/pkg/tools"
)

const (
	// DefaultContextWindow is how many stored messages accompany a new prompt.
	DefaultContextWindow = 10

	// DefaultMaxTokens caps completion output when no limit is configured.
	DefaultMaxTokens = 4096

	// DefaultRateLimitRequests and DefaultRateLimitWindow throttle turns per user.
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = time.Minute

	// rateLimitAction is the limiter bucket used for chat turns.
	rateLimitAction = "chat"

	// maxParallelToolCalls bounds concurrent tool execution within one turn.
	maxParallelToolCalls = 4
)

// Identity answers whether a user may use the assistant.
type Identity interface {
	CanUseChat(ctx context.Context, userID string) (bool, error)
}

// Config tunes engine behavior.
type Config struct {
	Model             string
	SystemPrompt      string
	MaxTokens         int // DefaultMaxTokens when zero
	Temperature       float64
	ContextWindow     int           // DefaultContextWindow when zero
	RateLimitRequests int           // DefaultRateLimitRequests when zero
	RateLimitWindow   time.Duration // DefaultRateLimitWindow when zero
}

// Options holds the engine's collaborators.
type Options struct {
	History  *history.Store
	Limiter  *ratelimit.Limiter
	Provider llm.Provider
	Executor tools.Executor
	Identity Identity
	Logger   zerolog.Logger
	Config   Config
}

// Engine orchestrates conversation turns.
type Engine struct {
	history  *history.Store
	limiter  *ratelimit.Limiter
	provider llm.Provider
	executor tools.Executor
	identity Identity
	logger   zerolog.Logger
	cfg      Config

	activeTurns map[string]context.CancelFunc
	turnsMu     sync.Mutex
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(opts Options) (*Engine, error) {
	observability.EnsureRegistered()

	if opts.History == nil {
		return nil, errors.New("history store is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("tool executor is required")
	}
	if opts.Identity == nil {
		return nil, errors.New("identity provider is required")
	}

	cfg := opts.Config
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = DefaultRateLimitRequests
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}

	return &Engine{
		history:     opts.History,
		limiter:     opts.Limiter,
		provider:    opts.Provider,
		executor:    opts.Executor,
		identity:    opts.Identity,
		logger:      opts.Logger,
		cfg:         cfg,
		activeTurns: make(map[string]context.CancelFunc),
	}, nil
}

// TurnParams is the input of one turn.
type TurnParams struct {
	SessionID string
	UserID    string
	Prompt    string
}

// TurnResult is the finalized outcome of a successful turn.
type TurnResult struct {
	Reply history.Message
	Usage *llm.Usage
}

// RunTurn executes one full conversation turn.
func (e *Engine) RunTurn(ctx context.Context, params TurnParams) (TurnResult, error) {
	start := time.Now()
	result, err := e.runTurn(ctx, params)
	observability.RecordTurn(turnStatus(err), time.Since(start))
	return result, err
}

// Abort cancels the in-flight turn for a session, if any. The already
// persisted user message is left in place.
func (e *Engine) Abort(sessionID string) {
	e.turnsMu.Lock()
	cancel, ok := e.activeTurns[sessionID]
	delete(e.activeTurns, sessionID)
	e.turnsMu.Unlock()

	if ok {
		e.logger.Info().Str("session_id", sessionID).Msg("Aborting turn")
		cancel()
	}
}

// IsRunning reports whether a turn is in flight for the session.
func (e *Engine) IsRunning(sessionID string) bool {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()
	_, ok := e.activeTurns[sessionID]
	return ok
}

func (e *Engine) runTurn(ctx context.Context, params TurnParams) (TurnResult, error) {
	if params.SessionID == "" {
		return TurnResult{}, errors.New("session id is required")
	}
	if params.UserID == "" {
		return TurnResult{}, errors.New("user id is required")
	}
	if params.Prompt == "" {
		return TurnResult{}, errors.New("prompt is required")
	}
	if e.provider == nil {
		return TurnResult{}, fmt.Errorf("%w: no provider", ErrCompletionUnavailable)
	}

	logger := e.logger.With().Str("session_id", params.SessionID).Logger()

	allowed, err := e.identity.CanUseChat(ctx, params.UserID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("authorization check failed: %w", err)
	}
	if !allowed {
		return TurnResult{}, ErrUnauthorized
	}

	if !e.limiter.Allow(params.UserID, rateLimitAction, e.cfg.RateLimitRequests, e.cfg.RateLimitWindow) {
		return TurnResult{}, ErrRateLimited
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.turnsMu.Lock()
	e.activeTurns[params.SessionID] = cancel
	e.turnsMu.Unlock()
	defer func() {
		e.turnsMu.Lock()
		delete(e.activeTurns, params.SessionID)
		e.turnsMu.Unlock()
	}()

	// Context window is captured before the new prompt is appended so the
	// prompt appears exactly once in the completion input.
	window, err := e.history.Read(turnCtx, params.SessionID, params.UserID, e.cfg.ContextWindow)
	if err != nil {
		return TurnResult{}, cancelledOr(turnCtx, err)
	}

	userMsg := history.Message{Role: history.RoleUser, Content: params.Prompt}
	if err := e.history.Append(turnCtx, params.SessionID, params.UserID, userMsg); err != nil {
		return TurnResult{}, cancelledOr(turnCtx, err)
	}

	catalog := e.loadCatalog(turnCtx, logger)

	messages := toProviderMessages(window)
	messages = append(messages, llm.Message{Role: "user", Content: params.Prompt})

	completion, err := e.complete(turnCtx, messages, catalog)
	if err != nil {
		return TurnResult{}, err
	}

	if len(completion.ToolCalls) == 0 {
		reply := history.Message{Role: history.RoleAssistant, Content: completion.Text}
		if err := e.history.Append(turnCtx, params.SessionID, params.UserID, reply); err != nil {
			return TurnResult{}, cancelledOr(turnCtx, err)
		}
		return TurnResult{Reply: reply, Usage: completion.Usage}, nil
	}

	logger.Debug().Int("tool_calls", len(completion.ToolCalls)).Msg("Executing tool calls")

	results := e.executeToolCalls(turnCtx, completion.ToolCalls)
	if turnCtx.Err() != nil {
		return TurnResult{}, ErrCancelled
	}

	replyText := completion.Text
	usage := completion.Usage

	if anySucceeded(results) {
		summary, err := e.summarize(turnCtx, messages, completion, results)
		switch {
		case err != nil && turnCtx.Err() != nil:
			return TurnResult{}, ErrCancelled
		case err != nil:
			// Degrade to the pre-summary text rather than failing the turn.
			logger.Warn().Err(err).Msg("Follow-up summarization failed, keeping original reply")
		case summary.Text != "":
			replyText = summary.Text
			usage = summary.Usage
		}
	}

	reply := history.Message{
		Role:        history.RoleAssistant,
		Content:     replyText,
		ToolCalls:   toStoredCalls(completion.ToolCalls),
		ToolResults: results,
	}
	if err := e.history.Append(turnCtx, params.SessionID, params.UserID, reply); err != nil {
		return TurnResult{}, cancelledOr(turnCtx, err)
	}

	return TurnResult{Reply: reply, Usage: usage}, nil
}

// cancelledOr maps failures caused by an aborted turn to ErrCancelled.
func cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return err
}

// loadCatalog fetches the tool catalog. A listing failure degrades to a
// toolless turn instead of failing it.
func (e *Engine) loadCatalog(ctx context.Context, logger zerolog.Logger) []map[string]any {
	defs, err := e.executor.ListTools(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list tools, continuing without a catalog")
		return nil
	}

	catalog := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		catalog = append(catalog, map[string]any{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.InputSchema(),
		})
	}
	return catalog
}

func (e *Engine) complete(ctx context.Context, messages []llm.Message, catalog []map[string]any) (*llm.Completion, error) {
	completion, err := e.provider.Complete(ctx, llm.Request{
		Model:        e.cfg.Model,
		Messages:     messages,
		Tools:        catalog,
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
		SystemPrompt: e.cfg.SystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%w: %s", ErrCompletionUnavailable, err)
	}
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	return completion, nil
}

// executeToolCalls runs every call and returns results in call order. A
// failed call yields a result carrying its error; it never aborts the batch.
func (e *Engine) executeToolCalls(ctx context.Context, calls []llm.ToolCall) []history.ToolResult {
	results := make([]history.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelToolCalls)

	for i, call := range calls {
		g.Go(func() error {
			res, err := e.executor.Call(gctx, call.Name, call.Arguments)
			switch {
			case err != nil:
				results[i] = history.ToolResult{CallID: call.ID, Error: err.Error()}
			case res.IsError:
				results[i] = history.ToolResult{CallID: call.ID, Error: renderContent(res.Content)}
			default:
				results[i] = history.ToolResult{CallID: call.ID, Content: res.Content}
			}
			// Tool failures are recorded, never propagated.
			return nil
		})
	}

	_ = g.Wait() // goroutines always return nil

	return results
}

// summarize asks the provider for a natural-language rendering of the tool
// outputs. The catalog is omitted: tools are not invokable during this turn.
func (e *Engine) summarize(ctx context.Context, messages []llm.Message, completion *llm.Completion, results []history.ToolResult) (*llm.Completion, error) {
	followUp := make([]llm.Message, 0, len(messages)+1+len(results))
	followUp = append(followUp, messages...)
	followUp = append(followUp, llm.Message{
		Role:      "assistant",
		Content:   completion.Text,
		ToolCalls: completion.ToolCalls,
	})
	for _, result := range results {
		followUp = append(followUp, llm.Message{
			Role:       "tool",
			ToolCallID: result.CallID,
			Content:    renderResult(result),
		})
	}

	return e.provider.Complete(ctx, llm.Request{
		Model:        e.cfg.Model,
		Messages:     followUp,
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
		SystemPrompt: e.cfg.SystemPrompt,
	})
}

func anySucceeded(results []history.ToolResult) bool {
	for _, r := range results {
		if !r.Failed() {
			return true
		}
	}
	return false
}

func toProviderMessages(window []history.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(window)+1)
	for _, msg := range window {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

func toStoredCalls(calls []llm.ToolCall) []history.ToolCall {
	stored := make([]history.ToolCall, 0, len(calls))
	for _, call := range calls {
		stored = append(stored, history.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	return stored
}

func renderResult(result history.ToolResult) string {
	if result.Failed() {
		return "error: " + result.Error
	}
	return renderContent(result.Content)
}

func renderContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func turnStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCompletionUnavailable):
		return "completion_unavailable"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
