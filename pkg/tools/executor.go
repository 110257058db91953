package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/wpscholar/wp-mcp/internal/observability"
)

const (
	// DefaultCallTimeout bounds a single tool call.
	DefaultCallTimeout = 30 * time.Second

	// maxOutputBytes caps the string form of a tool result.
	maxOutputBytes = 10 * 1024
)

// ErrToolNotFound is returned when a call names an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// Parameter describes one typed argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Definition describes a tool: its name, human-readable description, and
// input shape. The orchestration engine forwards definitions to the
// completion provider unmodified.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// InputSchema renders the definition's parameters as a JSON-Schema object map.
func (d Definition) InputSchema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	var required []string

	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Result is the outcome of one tool call. IsError marks a failure the tool
// itself reported; transport-level failures surface as the error return of
// Call instead.
type Result struct {
	Content   any  `json:"content,omitempty"`
	IsError   bool `json:"isError,omitempty"`
	Truncated bool `json:"truncated,omitempty"`
}

// Executor is the capability boundary the orchestration engine consumes.
type Executor interface {
	// ListTools returns the current tool catalog.
	ListTools(ctx context.Context) ([]Definition, error)

	// Call executes a named tool with the given arguments.
	Call(ctx context.Context, name string, args map[string]any) (Result, error)
}

// Handler is the function signature for locally registered tools.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type registered struct {
	def     Definition
	schema  *gojsonschema.Schema
	handler Handler
}

// Registry is an Executor backed by locally registered handlers.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*registered
	order       []string
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()

	return &Registry{
		tools:       make(map[string]*registered),
		callTimeout: DefaultCallTimeout,
		logger:      logger,
	}
}

// SetCallTimeout overrides the per-call timeout.
func (r *Registry) SetCallTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.callTimeout = d
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(def Definition, handler Handler) error {
	if err := validateDefinition(def, handler); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.tools[def.Name] = &registered{def: def, schema: schema, handler: handler}
	r.order = append(r.order, def.Name)

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// ListTools returns the catalog in registration order.
func (r *Registry) ListTools(_ context.Context) ([]Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs, nil
}

// Call validates args against the tool's schema and runs its handler under
// the registry's timeout.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (Result, error) {
	start := time.Now()

	r.mu.RLock()
	entry := r.tools[name]
	timeout := r.callTimeout
	r.mu.RUnlock()

	if entry == nil {
		observability.RecordToolCall(name, time.Since(start), false)
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(entry.schema, args); err != nil {
		observability.RecordToolCall(name, time.Since(start), false)
		return Result{}, fmt.Errorf("argument validation failed for %s: %w", name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := entry.handler(callCtx, args)
	duration := time.Since(start)
	if err != nil {
		observability.RecordToolCall(name, duration, false)
		r.logger.Debug().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool call failed")
		return Result{}, err
	}

	content, truncated := truncateOutput(output)
	observability.RecordToolCall(name, duration, true)
	r.logger.Debug().
		Str("tool", name).
		Dur("duration", duration).
		Bool("truncated", truncated).
		Msg("Tool call completed")

	return Result{Content: content, Truncated: truncated}, nil
}

func validateDefinition(def Definition, handler Handler) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool %s description cannot be empty", def.Name)
	}
	if handler == nil {
		return fmt.Errorf("tool %s handler cannot be nil", def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s has a parameter with no name", def.Name)
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid type %q for parameter %s of %s", p.Type, p.Name, def.Name)
		}
		if p.Description == "" {
			return fmt.Errorf("parameter %s of %s has no description", p.Name, def.Name)
		}
	}
	return nil
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema()))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		var findings []string
		for _, desc := range result.Errors() {
			findings = append(findings, desc.String())
		}
		return fmt.Errorf("validation errors: %v", findings)
	}
	return nil
}

func truncateOutput(output any) (any, bool) {
	str, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(str) <= maxOutputBytes {
		return output, false
	}

	// Back off to a rune boundary so the cut never splits a UTF-8 sequence.
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}
