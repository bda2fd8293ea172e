// Package ai routes analyze, generate and search requests to a local model
// with a single fallback to a remote model, caching successful responses.
package ai

import (
	"context"
	"errors"
)

// Backend names reported in failures and spans.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendSearch = "search"
)

var (
	// ErrNoAPIKey is returned by backends that need a key when none resolved.
	ErrNoAPIKey = errors.New("no API key available")

	// ErrUnauthorized wraps upstream rejections of the key that was sent.
	ErrUnauthorized = errors.New("credentials rejected")
)

func isCredentialFailure(err error) bool {
	return errors.Is(err, ErrNoAPIKey) || errors.Is(err, ErrUnauthorized)
}

// Prompt is a single-turn model request.
type Prompt struct {
	System string
	User   string

	// JSON asks the backend to constrain output to JSON when it can.
	JSON bool
}

// Backend completes prompts against one model server.
type Backend interface {
	Name() string

	// Complete returns the model's full text output. Truncated or
	// incomplete generations are errors.
	Complete(ctx context.Context, p Prompt, apiKey string) (string, error)
}

// Pinger is implemented by backends that can report liveness cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher runs a web search. It backs search requests when configured.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
}
