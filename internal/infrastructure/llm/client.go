package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/httpx"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/bsrbot/bsr/internal/infrastructure/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// truncationGrowth is how much max_tokens grows after a truncated reply.
	truncationGrowth   = 1.5
	maxTokensHardCap   = 32768
	capabilityCacheTTL = time.Hour

	// ErrStructuredParse is surfaced when every model exhausted the
	// structured-output downgrade ladder without a parseable reply.
	ErrStructuredParse = "structured_output_parse_error"
)

// safeStructuredFallbacks are appended to the model chain when the primary is
// a reasoning-heavy model and structured output was requested.
var safeStructuredFallbacks = []string{
	"openai/gpt-4o-mini",
	"google/gemini-2.0-flash",
}

// ClientConfig configures the chat orchestrator.
type ClientConfig struct {
	Model             string
	FallbackModels    []string
	Temperature       float64
	MaxTokens         int
	MaxRetries        int
	RequestTimeout    time.Duration
	RetryBaseWait     time.Duration
	RetryMaxWait      time.Duration
	StructuredOutputs bool
	MaxConcurrent     int64
	MaxResponseBytes  int64
	DebugPayloads     bool
}

// Client runs the model × attempt chat loop over a provider builder. All
// failures come back as error-status ChatResults; the orchestrator never
// propagates HTTP status errors as Go errors.
type Client struct {
	builder Builder
	cfg     ClientConfig
	breaker *CircuitBreaker
	http    *http.Client
	sem     *semaphore.Weighted
	logger  *zap.Logger

	capMu      sync.Mutex
	capModels  map[string]struct{}
	capFetched time.Time
}

// NewClient builds a chat client on the shared transport pool.
func NewClient(builder Builder, cfg ClientConfig, breaker *CircuitBreaker, pool *httpx.Pool, logger *zap.Logger) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	key := httpx.NewClientKey(builder.BaseURL(), cfg.RequestTimeout, 20, 10, "llm:"+builder.Name())
	return &Client{
		builder: builder,
		cfg:     cfg,
		breaker: breaker,
		http:    pool.Acquire(key),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger.With(zap.String("component", "llm-client"), zap.String("provider", builder.Name())),
	}
}

// chatState carries per-run negotiation state across attempts.
type chatState struct {
	rfMode          ResponseFormatType // "" = unstructured
	maxTokens       int
	lastError       string
	lastErrorCtx    map[string]any
	lastLatency     time.Duration
	modelReported   string
	structuredUsed  bool
	structuredParse bool
}

// Chat runs one orchestrated chat call: primary model plus fallbacks, each
// with up to MaxRetries+1 attempts, negotiating structured output down the
// json_schema → json_object → unstructured ladder as the server pushes back.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) *ChatResult {
	if err := req.Validate(); err != nil {
		return c.errorResult("", err.Error(), nil, 0)
	}

	if !c.breaker.Allow() {
		return c.errorResult("", "LLM service temporarily unavailable (circuit breaker open)", map[string]any{
			"circuit_state": c.breaker.State().String(),
		}, 0)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.errorResult("", "request cancelled while waiting for a slot", nil, 0)
	}
	defer c.sem.Release(1)

	scrubbed := *req
	scrubbed.Messages = ScrubUserContent(req.Messages)

	models := c.modelChain(&scrubbed)
	rf := scrubbed.ResponseFormat
	structuredEnabled := rf != nil && c.cfg.StructuredOutputs

	st := &chatState{
		rfMode:    initialMode(rf, structuredEnabled),
		maxTokens: scrubbed.MaxTokens,
	}
	if st.maxTokens <= 0 {
		st.maxTokens = c.cfg.MaxTokens
	}

	capable := c.structuredCapability(ctx)

	start := time.Now()
	for _, model := range models {
		if structuredEnabled && capable != nil {
			if _, ok := capable[model]; !ok {
				if model == models[0] {
					// Keep the primary but give up on structured mode so the
					// unstructured fallback path stays available.
					st.rfMode = ""
				} else {
					c.logger.Debug("Skipping model without structured output support",
						zap.String("model", model))
					continue
				}
			}
		}

		if result := c.runModel(ctx, model, &scrubbed, st); result != nil {
			c.breaker.RecordSuccess()
			result.LatencyMillis = time.Since(start).Milliseconds()
			return result
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.breaker.RecordFailure()
	errText := st.lastError
	if st.structuredParse {
		errText = ErrStructuredParse
	}
	if errText == "" {
		errText = "all models exhausted"
	}
	return c.errorResult(st.modelReported, errText, st.lastErrorCtx, time.Since(start).Milliseconds())
}

// runModel runs the attempt loop for one model. A nil return means the model
// is exhausted and the caller should move to the next one.
func (c *Client) runModel(ctx context.Context, model string, req *ChatRequest, st *chatState) *ChatResult {
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		rf := activeFormat(req.ResponseFormat, st.rfMode)
		compress := estimateMessageChars(req.Messages) > compressionThreshold(model)

		body, err := c.builder.BuildBody(model, req, rf, st.maxTokens, compress)
		if err != nil {
			st.lastError = err.Error()
			return nil
		}

		status, respBody, header, sendErr := c.send(ctx, body, rf != nil)
		if sendErr != nil {
			st.lastError = sendErr.Error()
			if !retry.IsTransient(sendErr) || attempt == c.cfg.MaxRetries {
				return nil
			}
			if retry.Sleep(ctx, retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)) != nil {
				return nil
			}
			continue
		}

		if status == http.StatusOK {
			result, decision := c.interpretSuccess(model, req, rf, respBody, st)
			switch decision {
			case decisionReturn:
				return result
			case decisionRetry:
				if attempt == c.cfg.MaxRetries {
					return nil
				}
				if retry.Sleep(ctx, retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)) != nil {
					return nil
				}
				continue
			case decisionNextModel:
				return nil
			}
		}

		decision := c.interpretFailure(ctx, model, status, respBody, header, rf, st, attempt)
		switch decision {
		case decisionRetry:
			continue
		case decisionNextModel:
			return nil
		case decisionAbort:
			return nil
		}
	}
	return nil
}

type decision int

const (
	decisionReturn decision = iota
	decisionRetry
	decisionNextModel
	decisionAbort
)

func (c *Client) interpretSuccess(model string, req *ChatRequest, rf *ResponseFormat, body []byte, st *chatState) (*ChatResult, decision) {
	env, err := c.builder.ParseEnvelope(body)
	if err != nil {
		st.lastError = "malformed response body: " + err.Error()
		return nil, decisionRetry
	}
	st.modelReported = env.Model

	text, usage, cost := ExtractResponseData(env, rf != nil)

	if truncated, finish, native := IsCompletionTruncated(env); truncated {
		c.logger.Warn("Completion truncated",
			zap.String("model", model),
			zap.String("finish_reason", finish),
			zap.String("native_finish_reason", native),
		)
		// Downgrade structured mode first; a schema-bound reply is the most
		// token-hungry shape. Then grow the budget.
		if st.rfMode != "" {
			st.rfMode = downgrade(st.rfMode)
		}
		grown := int(float64(st.maxTokens) * truncationGrowth)
		if grown > maxTokensHardCap {
			grown = maxTokensHardCap
		}
		st.maxTokens = grown
		st.lastError = "completion truncated at token limit"
		return nil, decisionRetry
	}

	if rf != nil {
		valid, normalized := ValidateStructuredResponse(text, rf)
		if !valid {
			c.logger.Debug("Structured response failed validation",
				zap.String("model", model),
				zap.String("mode", string(st.rfMode)),
			)
			if st.rfMode != "" {
				st.rfMode = downgrade(st.rfMode)
				st.lastError = "structured response invalid, downgrading"
				return nil, decisionRetry
			}
			st.structuredParse = true
			st.lastError = ErrStructuredParse
			return nil, decisionNextModel
		}
		text = normalized
		st.structuredUsed = true
	}

	if text == "" {
		st.lastError = "empty response content"
		return nil, decisionRetry
	}

	if cost == nil {
		cost = EstimateCost(env.Model, usage.PromptTokens, usage.CompletionTokens)
	}

	result := &ChatResult{
		Status:          "ok",
		Model:           env.Model,
		ResponseText:    text,
		PromptTokens:    usage.PromptTokens,
		OutputTokens:    usage.CompletionTokens,
		TotalTokens:     usage.TotalTokens,
		CostUSD:         cost,
		Endpoint:        c.builder.ChatEndpoint(),
		RequestHeaders:  c.builder.RedactHeaders(c.builder.BuildHeaders(rf != nil)),
		RequestMessages: SanitizeMessages(req.Messages),
		StructuredUsed:  st.structuredUsed && st.rfMode != "",
		StructuredMode:  string(st.rfMode),
	}
	if parsed, perr := jsonx.ParseDefault([]byte(text)); perr == nil {
		if obj, ok := parsed.(map[string]any); ok {
			result.ResponseBody = obj
		}
	}
	if usage.CacheReadTokens > 0 || usage.CacheCreationTokens > 0 {
		result.Cache = &CacheMetrics{
			ReadTokens:     usage.CacheReadTokens,
			CreationTokens: usage.CacheCreationTokens,
			Hit:            usage.CacheReadTokens > 0,
		}
	}
	return result, decisionReturn
}

func (c *Client) interpretFailure(ctx context.Context, model string, status int, body []byte, header http.Header, rf *ResponseFormat, st *chatState, attempt int) decision {
	bodyText := strings.ToLower(string(body))
	st.lastErrorCtx = ErrorContext(status, body, c.builder.Name())
	st.lastError = FormatErrorText(status, st.lastErrorCtx)

	switch {
	case status == 400 && rf != nil && strings.Contains(bodyText, "response_format"):
		// The model rejected the structured-output shape; relax it.
		st.rfMode = downgrade(st.rfMode)
		c.logger.Info("Downgrading structured output mode",
			zap.String("model", model),
			zap.String("mode", string(st.rfMode)),
		)
		if retry.Sleep(ctx, retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)) != nil {
			return decisionAbort
		}
		return decisionRetry

	case status == 404 || strings.Contains(bodyText, "no endpoints found") || strings.Contains(bodyText, "does not support structured"):
		if rf != nil && st.rfMode != "" {
			st.rfMode = downgrade(st.rfMode)
			if retry.Sleep(ctx, retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)) != nil {
				return decisionAbort
			}
			return decisionRetry
		}
		return decisionNextModel

	case status == 400 || status == 401 || status == 402 || status == 403:
		// Non-retryable; no fallback will fix a bad request or bad key.
		return decisionAbort

	case status == 429:
		if attempt == c.cfg.MaxRetries {
			return decisionNextModel
		}
		delay := retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
			}
		}
		if retry.Sleep(ctx, delay) != nil {
			return decisionAbort
		}
		return decisionRetry

	case status >= 500:
		if attempt == c.cfg.MaxRetries {
			return decisionNextModel
		}
		if retry.Sleep(ctx, retry.Delay(attempt, c.cfg.RetryBaseWait, c.cfg.RetryMaxWait)) != nil {
			return decisionAbort
		}
		return decisionRetry

	default:
		return decisionNextModel
	}
}

// send posts the body and returns status, body bytes, and headers. The
// response-size guard runs before and after the body is read.
func (c *Client) send(ctx context.Context, body map[string]any, structured bool) (int, []byte, http.Header, error) {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return 0, nil, nil, err
	}

	url := c.builder.BaseURL() + c.builder.ChatEndpoint()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, err
	}
	httpReq.Header = c.builder.BuildHeaders(structured)

	if c.cfg.DebugPayloads {
		c.logger.Debug("LLM request payload", zap.ByteString("body", payload))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	if err := httpx.CheckResponseSize(resp, -1, c.cfg.MaxResponseBytes, c.logger); err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpx.MaxSizeBudget))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}
	if err := httpx.CheckResponseSize(nil, int64(len(respBody)), c.cfg.MaxResponseBytes, c.logger); err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// modelChain computes the ordered model list for one call.
func (c *Client) modelChain(req *ChatRequest) []string {
	primary := c.cfg.Model
	if req.ModelOverride != "" {
		primary = req.ModelOverride
	}

	seen := map[string]struct{}{primary: {}}
	models := []string{primary}
	for _, m := range c.cfg.FallbackModels {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}

	if req.ResponseFormat != nil && c.cfg.StructuredOutputs && isReasoningModel(primary) {
		for _, m := range safeStructuredFallbacks {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			models = append(models, m)
		}
	}
	return models
}

// structuredCapability returns the provider's structured-output model set,
// TTL-cached, or nil when the provider does not advertise one.
func (c *Client) structuredCapability(ctx context.Context) map[string]struct{} {
	lister, ok := c.builder.(StructuredModelLister)
	if !ok {
		return nil
	}

	c.capMu.Lock()
	defer c.capMu.Unlock()

	if c.capModels != nil && time.Since(c.capFetched) < capabilityCacheTTL {
		return c.capModels
	}

	models, err := lister.ListStructuredModels(ctx, c.http)
	if err != nil {
		c.logger.Debug("Capability fetch failed, assuming all models capable", zap.Error(err))
		return c.capModels // possibly stale, possibly nil
	}

	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	c.capModels = set
	c.capFetched = time.Now()
	return set
}

func (c *Client) errorResult(model, errText string, errCtx map[string]any, latencyMs int64) *ChatResult {
	return &ChatResult{
		Status:        "error",
		Model:         model,
		ErrorText:     errText,
		ErrorContext:  errCtx,
		LatencyMillis: latencyMs,
		Endpoint:      c.builder.ChatEndpoint(),
	}
}

// BreakerState exposes the circuit state for status reporting.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

// downgrade steps the structured-output ladder:
// json_schema → json_object → "" (drop response_format entirely).
func downgrade(mode ResponseFormatType) ResponseFormatType {
	switch mode {
	case FormatJSONSchema:
		return FormatJSONObject
	default:
		return ""
	}
}

func initialMode(rf *ResponseFormat, enabled bool) ResponseFormatType {
	if rf == nil || !enabled {
		return ""
	}
	if rf.Type == FormatJSONObject {
		return FormatJSONObject
	}
	return FormatJSONSchema
}

// activeFormat projects the caller's format onto the current ladder position.
func activeFormat(rf *ResponseFormat, mode ResponseFormatType) *ResponseFormat {
	if rf == nil || mode == "" {
		return nil
	}
	if mode == FormatJSONObject {
		return &ResponseFormat{Type: FormatJSONObject}
	}
	return rf
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "openai/o1") || strings.HasPrefix(m, "openai/o3") ||
		strings.Contains(m, "-r1") || strings.Contains(m, "reasoning") ||
		strings.Contains(m, "thinking")
}

func estimateMessageChars(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

// compressionThreshold is the per-family character count above which the
// middle-out compression transform is requested.
func compressionThreshold(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gemini"):
		return 1200000
	case strings.Contains(m, "claude"):
		return 800000
	case strings.Contains(m, "gpt-4.1"):
		return 1000000
	default:
		return 200000
	}
}
