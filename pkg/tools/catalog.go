package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Post is a content item managed by the built-in catalog.
type Post struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Status   string    `json:"status"` // draft, publish, trash
	Modified time.Time `json:"modified"`
}

// ContentStore is the in-memory backend for the built-in content tools. It
// stands in for a real CMS in the CLI and in tests.
type ContentStore struct {
	mu    sync.RWMutex
	posts []*Post
}

// NewContentStore creates an empty ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{}
}

// Seed adds posts, minting IDs for any that lack one.
func (cs *ContentStore) Seed(posts ...Post) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := range posts {
		p := posts[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Status == "" {
			p.Status = "draft"
		}
		if p.Modified.IsZero() {
			p.Modified = time.Now().UTC()
		}
		cs.posts = append(cs.posts, &p)
	}
}

func (cs *ContentStore) find(id string) *Post {
	for _, p := range cs.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// RegisterContentTools registers the built-in content tools on a registry.
func RegisterContentTools(reg *Registry, store *ContentStore) error {
	catalog := []struct {
		def     Definition
		handler Handler
	}{
		{
			def: Definition{
				Name:        "search_posts",
				Description: "Search posts by a case-insensitive text query over title and content.",
				Parameters: []Parameter{
					{Name: "query", Type: "string", Description: "Text to search for", Required: true},
					{Name: "status", Type: "string", Description: "Optional status filter: draft, publish, or trash"},
				},
			},
			handler: func(_ context.Context, args map[string]any) (any, error) {
				query := strings.ToLower(args["query"].(string))
				status, _ := args["status"].(string)

				store.mu.RLock()
				defer store.mu.RUnlock()

				var matches []Post
				for _, p := range store.posts {
					if status != "" && p.Status != status {
						continue
					}
					if strings.Contains(strings.ToLower(p.Title), query) ||
						strings.Contains(strings.ToLower(p.Content), query) {
						matches = append(matches, *p)
					}
				}
				return matches, nil
			},
		},
		{
			def: Definition{
				Name:        "create_draft",
				Description: "Create a new draft post with a title and body content.",
				Parameters: []Parameter{
					{Name: "title", Type: "string", Description: "Post title", Required: true},
					{Name: "content", Type: "string", Description: "Post body", Required: true},
				},
			},
			handler: func(_ context.Context, args map[string]any) (any, error) {
				post := Post{
					ID:       uuid.NewString(),
					Title:    args["title"].(string),
					Content:  args["content"].(string),
					Status:   "draft",
					Modified: time.Now().UTC(),
				}

				store.mu.Lock()
				store.posts = append(store.posts, &post)
				store.mu.Unlock()

				return post, nil
			},
		},
		{
			def: Definition{
				Name:        "update_post_status",
				Description: "Change a post's status to draft, publish, or trash.",
				Parameters: []Parameter{
					{Name: "id", Type: "string", Description: "Post identifier", Required: true},
					{Name: "status", Type: "string", Description: "New status: draft, publish, or trash", Required: true},
				},
			},
			handler: func(_ context.Context, args map[string]any) (any, error) {
				id := args["id"].(string)
				status := args["status"].(string)
				switch status {
				case "draft", "publish", "trash":
				default:
					return nil, fmt.Errorf("invalid status %q", status)
				}

				store.mu.Lock()
				defer store.mu.Unlock()

				post := store.find(id)
				if post == nil {
					return nil, fmt.Errorf("post %s not found", id)
				}
				post.Status = status
				post.Modified = time.Now().UTC()
				return *post, nil
			},
		},
	}

	for _, entry := range catalog {
		if err := reg.Register(entry.def, entry.handler); err != nil {
			return err
		}
	}
	return nil
}
