package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider performs a single chat completion against an upstream API.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
