package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Usage is the normalized token accounting of one provider response.
type Usage struct {
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	TotalCost           *float64
	CacheReadTokens     int
	CacheCreationTokens int
}

// Envelope is a provider response normalized to a common shape. Message holds
// the raw message object (parsed / content / reasoning / tool_calls keys) for
// the response processor to walk.
type Envelope struct {
	Message            map[string]any
	Model              string
	FinishReason       string
	NativeFinishReason string
	Usage              Usage
	Raw                map[string]any
}

// Builder produces provider-specific wire requests and parses provider
// responses. One implementation exists per provider family; the orchestrator
// owns the HTTP client and the retry/fallback loop.
type Builder interface {
	// Name returns the provider identifier (e.g. "openrouter", "anthropic").
	Name() string

	// BaseURL returns the provider base URL without a trailing slash.
	BaseURL() string

	// ChatEndpoint returns the chat path, e.g. "/api/v1/chat/completions".
	ChatEndpoint() string

	// BuildHeaders returns the full header set including credentials.
	BuildHeaders(structured bool) http.Header

	// BuildBody converts the abstract request into the provider wire shape.
	// rf may be nil (unstructured mode); compress requests the provider's
	// content-compression transform when supported.
	BuildBody(model string, req *ChatRequest, rf *ResponseFormat, maxTokens int, compress bool) (map[string]any, error)

	// RedactHeaders returns headers safe for logging (authorization masked).
	RedactHeaders(h http.Header) map[string]string

	// ParseEnvelope decodes a 200-response body into the normalized envelope.
	ParseEnvelope(body []byte) (*Envelope, error)
}

// StructuredModelLister is implemented by builders whose provider advertises
// which models support structured outputs.
type StructuredModelLister interface {
	ListStructuredModels(ctx context.Context, client *http.Client) ([]string, error)
}

// BuilderConfig holds configuration for one provider builder.
type BuilderConfig struct {
	Name          string
	Type          string // "openrouter" (default) | "openai" | "anthropic"
	BaseURL       string
	APIKey        string
	OrgID         string
	ProviderOrder []string
}

// --- Builder Factory Registry ---
// Builders register themselves via init() in their own package.
// Adding a provider type = implement Builder + RegisterFactory("type", New).

// BuilderFactory creates a Builder from config.
type BuilderFactory func(cfg BuilderConfig, logger *zap.Logger) Builder

var (
	factoryMu sync.RWMutex
	factories = map[string]BuilderFactory{}
)

// RegisterFactory registers a builder factory for the given type name.
func RegisterFactory(typeName string, factory BuilderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateBuilder creates a Builder using the registered factory for cfg.Type.
// An empty Type defaults to "openrouter".
func CreateBuilder(cfg BuilderConfig, logger *zap.Logger) (Builder, error) {
	t := cfg.Type
	if t == "" {
		t = "openrouter"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}

// RedactAuthHeaders is the shared header-redaction helper. Authorization and
// API-key headers are masked to their last four characters.
func RedactAuthHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "X-Api-Key":
			if n := len(v); n > 4 {
				v = "***" + v[n-4:]
			} else {
				v = "***"
			}
		}
		out[name] = v
	}
	return out
}
