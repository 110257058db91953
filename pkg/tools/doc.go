// Package tools defines the capability boundary for listing and executing
// remote tools, plus a registry-backed executor for locally registered tools.
//
// Invariants:
// - Tool names are unique within a registry.
// - Arguments are schema-validated before a handler runs.
// - Every call yields either a Result or an error; a handler failure never
//   takes down other calls in the same turn.
//
// Usage:
//
//	reg := tools.NewRegistry(logger)
//	_ = reg.Register(tools.Definition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []tools.Parameter{{Name: "text", Type: "string", Description: "text to echo", Required: true}},
//	}, func(ctx context.Context, args map[string]any) (any, error) { return args["text"], nil })
package tools
