// Package chat drives one conversation turn: it persists the user's message,
// asks the completion provider for a reply, executes any requested tool
// calls, optionally asks for a follow-up summary of the tool outputs, and
// persists the finalized assistant message.
//
// Invariants:
// - The user message is durable before any provider call is made.
// - Tool results are presented downstream in the order the calls were
//   returned, regardless of completion timing.
// - A cancelled or failed turn never persists a partial assistant message.
//
// The engine is stateless between turns: durable state lives in the history
// store and per-turn state in local variables.
package chat
