package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/bsrbot/bsr/internal/infrastructure/llm"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"github.com/bsrbot/bsr/internal/infrastructure/scrape"
	"github.com/bsrbot/bsr/internal/infrastructure/youtube"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// Content sources for a summarization run.
const (
	SourceArticle = "article"
	SourceVideo   = "youtube"
)

const summarySystemPrompt = `You summarize web content. Given an article or video transcript, respond with JSON containing:
- summary_250: a summary of at most 250 characters
- summary_1000: a summary of at most 1000 characters
- tldr: one or two sentences capturing the essence
- topics: up to five short topic tags
Respond with the JSON object only.`

// summarySchema is the structured-output contract for summaries.
var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary_250":  map[string]any{"type": "string"},
		"summary_1000": map[string]any{"type": "string"},
		"tldr":         map[string]any{"type": "string"},
		"topics": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": 5,
		},
	},
	"required":             []any{"summary_250", "summary_1000", "tldr"},
	"additionalProperties": false,
}

// Outcome is the result of one summarization run.
type Outcome struct {
	RequestID uint   `json:"request_id"`
	SummaryID uint   `json:"summary_id"`
	Source    string `json:"source"`
	Cached    bool   `json:"cached"`
	Payload   string `json:"payload"`
	Model     string `json:"model,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Summarizer is the ingestion use case: URL in, persisted structured summary
// out. YouTube links go through the video pipeline, everything else through
// the scrape client.
type Summarizer struct {
	store   *persistence.Store
	llm     *llm.Client
	scraper *scrape.Client
	videos  *youtube.Pipeline
	logger  *zap.Logger
}

// NewSummarizer wires the use case.
func NewSummarizer(store *persistence.Store, llmClient *llm.Client, scraper *scrape.Client, videos *youtube.Pipeline, logger *zap.Logger) *Summarizer {
	return &Summarizer{
		store:   store,
		llm:     llmClient,
		scraper: scraper,
		videos:  videos,
		logger:  logger.With(zap.String("component", "summarizer")),
	}
}

// SummarizeURL ingests one URL for the user. Duplicate submissions resolve
// to the stored summary without touching the network.
func (s *Summarizer) SummarizeURL(ctx context.Context, rawURL string, userID int64) (*Outcome, error) {
	rawURL = strings.TrimSpace(rawURL)
	if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.NewInvalidInputError("not a valid URL").WithContext("url", rawURL)
	}

	var requestID uint
	var content, title, source string

	if youtube.ExtractVideoID(rawURL) != "" {
		result, err := s.videos.DownloadAndExtract(ctx, rawURL, userID, youtube.Options{Silent: true})
		if err != nil {
			return nil, err
		}
		requestID = result.RequestID
		content = result.Transcript
		source = SourceVideo
		if result.Metadata != nil {
			title = result.Metadata.Title
		}
	} else {
		var err error
		requestID, content, title, err = s.acquireArticle(ctx, rawURL, userID)
		if err != nil {
			return nil, err
		}
		source = SourceArticle
	}

	if existing, err := s.store.GetSummaryByRequestID(ctx, requestID); err != nil {
		return nil, err
	} else if existing != nil {
		return &Outcome{
			RequestID: requestID,
			SummaryID: existing.ID,
			Source:    source,
			Cached:    true,
			Payload:   existing.Payload,
			Model:     existing.Model,
			Title:     title,
		}, nil
	}

	return s.summarize(ctx, requestID, userID, content, title, source)
}

// acquireArticle resolves the request row for an article URL and fetches its
// content, reusing a previously stored crawl when one exists.
func (s *Summarizer) acquireArticle(ctx context.Context, rawURL string, userID int64) (requestID uint, content, title string, err error) {
	if s.scraper == nil {
		return 0, "", "", apperrors.New(apperrors.CodeServiceUnavail, "content extraction is not configured")
	}
	normalized := urlx.Normalize(rawURL)
	hash := urlx.Hash(normalized)

	request, err := s.store.GetRequestByDedupeHash(ctx, hash)
	if err != nil {
		return 0, "", "", err
	}
	if request == nil {
		request, err = s.store.CreateRequest(ctx, userID, rawURL, normalized, hash)
		if err != nil {
			return 0, "", "", err
		}
	}

	result, err := s.scraper.ScrapeMarkdown(ctx, normalized, false, int64(request.ID))
	if err != nil {
		return 0, "", "", err
	}
	if !result.OK() {
		s.markRequestFailed(request.ID)
		return 0, "", "", fmt.Errorf("failed to fetch page: %s", result.ErrorText)
	}

	if t, ok := result.Metadata["title"].(string); ok {
		title = t
	}
	metadata, _ := jsonx.Marshal(result.Metadata)
	if err := s.store.SaveCrawlResult(ctx, &models.CrawlResultModel{
		RequestID: request.ID,
		Title:     title,
		Markdown:  result.Markdown,
		Metadata:  string(metadata),
	}); err != nil {
		s.logger.Warn("failed to save crawl result",
			zap.Uint("request_id", request.ID), zap.Error(err))
	}
	return request.ID, result.Markdown, title, nil
}

// summarize runs the LLM call and persists the structured payload.
func (s *Summarizer) summarize(ctx context.Context, requestID uint, userID int64, content, title, source string) (*Outcome, error) {
	if strings.TrimSpace(content) == "" {
		s.markRequestFailed(requestID)
		return nil, fmt.Errorf("no content to summarize")
	}

	result := s.llm.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: summarySystemPrompt},
			{Role: llm.RoleUser, Content: content},
		},
		Temperature: 0.3,
		ResponseFormat: &llm.ResponseFormat{
			Type:   llm.FormatJSONSchema,
			Name:   "summary",
			Strict: true,
			Schema: summarySchema,
		},
	})
	if !result.OK() {
		s.markRequestFailed(requestID)
		return nil, fmt.Errorf("summarization failed: %s", result.ErrorText)
	}

	summary, err := s.store.CreateSummary(ctx, &models.SummaryModel{
		RequestID: requestID,
		UserID:    userID,
		Payload:   result.ResponseText,
		Model:     result.Model,
	})
	if err != nil {
		return nil, err
	}

	if source == SourceArticle {
		if err := s.store.UpdateRequestStatus(ctx, requestID, models.RequestStatusOK); err != nil {
			s.logger.Warn("failed to mark request ok",
				zap.Uint("request_id", requestID), zap.Error(err))
		}
	}

	s.logger.Info("summary stored",
		zap.Uint("request_id", requestID), zap.Uint("summary_id", summary.ID),
		zap.String("source", source), zap.String("model", result.Model))

	return &Outcome{
		RequestID: requestID,
		SummaryID: summary.ID,
		Source:    source,
		Payload:   summary.Payload,
		Model:     result.Model,
		Title:     title,
	}, nil
}

func (s *Summarizer) markRequestFailed(requestID uint) {
	if err := s.store.UpdateRequestStatus(context.Background(), requestID, models.RequestStatusError); err != nil {
		s.logger.Warn("failed to mark request as errored",
			zap.Uint("request_id", requestID), zap.Error(err))
	}
}
