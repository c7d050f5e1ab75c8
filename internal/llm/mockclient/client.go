package mockclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/khalid-1/antigravity-mobile/internal/llm"
)

// Client is a deterministic llm.Client used for tests and CI.
type Client struct {
	prefix string
}

// New returns a mock client that echoes the last user text part.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Generate satisfies the llm.Client interface.
func (c *Client) Generate(_ context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	text := fmt.Sprintf("%s RESPONSE", c.prefix)
	if n := len(req.Contents); n > 0 {
		last, _ := llm.Split(req.Contents[n-1])
		if trimmed := strings.TrimSpace(last); trimmed != "" {
			text = fmt.Sprintf("%s RESPONSE: %s", c.prefix, trimmed)
		}
	}
	content := llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: text}}}
	return llm.GenerateResponse{Content: content, Text: text}, nil
}
