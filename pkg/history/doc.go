// Package history persists per-user conversation transcripts in SQLite.
//
// Invariants:
// - A session belongs to exactly one user; reads and writes verify ownership.
// - Messages within a session are append-only and strictly ordered.
// - A session never holds more than the configured maximum of messages;
//   the oldest messages are evicted first.
// - Message content is truncated, never rejected, at the configured cap.
//
// Usage:
//
//	store, _ := history.Open(history.Options{Path: "/tmp/wp-mcp/chat.db"})
//	_ = store.Append(ctx, "sess-1", "user-42", history.Message{Role: history.RoleUser, Content: "hello"})
//	msgs, _ := store.Read(ctx, "sess-1", "user-42", 10)
//	_ = msgs
package history
