// Package genai provides the fallacy analysis client backed by Grok's
// OpenAI-compatible chat completion API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration constants
const (
	// DefaultBaseURL is the x.ai OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.x.ai/v1"
	// DefaultModel is the Grok model used for fallacy analysis.
	DefaultModel = "grok-4-1-fast-reasoning-latest"
	// DefaultMaxTokens bounds the completion size; replies are short.
	DefaultMaxTokens = 300
	// DefaultTemperature for analysis completions.
	DefaultTemperature = 0.7
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the analysis client.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Option configures the analysis client.
type Option func(*Opts)

// WithAPIKey sets the Grok API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithModel overrides the analysis model.
func WithModel(m string) Option {
	return func(o *Opts) { o.Model = m }
}

// Client analyzes tweets for logical fallacies via Grok.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes an analysis client. The API key comes from options
// or the GROK_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GROK_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GROK_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(cfg.BaseURL))
	slog.Debug("genai.NewClient: analysis client configured", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// AnalyzeFallacy asks the model to analyze targetText for its primary
// logical fallacy, with contextText (the tweet being replied to) supplied
// when available. The reply text in the result is always within the
// platform post limit.
func (c *Client) AnalyzeFallacy(ctx context.Context, targetText, contextText string) (models.FallacyAnalysis, error) {
	userMessage := buildUserMessage(targetText, contextText)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		slog.Error("genai.AnalyzeFallacy: completion failed", "error", err)
		return models.FallacyAnalysis{}, fmt.Errorf("fallacy analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.AnalyzeFallacy: no choices returned")
		return models.FallacyAnalysis{}, fmt.Errorf("fallacy analysis: no choices returned")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai.AnalyzeFallacy: raw model response", "length", len(raw))
	analysis := parseAnalysisResponse(raw)
	slog.Info("genai.AnalyzeFallacy: analysis complete",
		"confidence", analysis.Confidence,
		"fallacy_detected", analysis.FallacyDetected,
		"fallacy_name", analysis.FallacyName)
	return analysis, nil
}

func buildUserMessage(targetText, contextText string) string {
	if contextText != "" {
		return fmt.Sprintf(`Analyze this reply for logical fallacies:

ORIGINAL TWEET (context - what they're replying to):
%s

REPLY TO ANALYZE (check for fallacies):
%s`, contextText, targetText)
	}
	return fmt.Sprintf(`Analyze this tweet for logical fallacies:

%s`, targetText)
}

type analysisJSON struct {
	Confidence      int     `json:"confidence"`
	FallacyDetected bool    `json:"fallacy_detected"`
	FallacyName     *string `json:"fallacy_name"`
	Reply           string  `json:"reply"`
}

var (
	confidenceRe = regexp.MustCompile(`"confidence":\s*(\d+)`)
	detectedRe   = regexp.MustCompile(`(?i)"fallacy_detected":\s*(true|false)`)
	nameRe       = regexp.MustCompile(`"fallacy_name":\s*"([^"]+)"`)
)

// parseAnalysisResponse parses the model's JSON verdict. Malformed JSON
// falls back to regex field extraction with the raw text as the reply, so
// a sloppy model response still yields a usable analysis.
func parseAnalysisResponse(raw string) models.FallacyAnalysis {
	var parsed analysisJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		reply := strings.ReplaceAll(parsed.Reply, `\n`, "\n")
		name := ""
		if parsed.FallacyName != nil {
			name = *parsed.FallacyName
		}
		return models.FallacyAnalysis{
			ReplyText:       TruncateReply(reply, models.MaxReplyLength),
			Confidence:      parsed.Confidence,
			FallacyDetected: parsed.FallacyDetected,
			FallacyName:     name,
		}
	}

	slog.Warn("genai.parseAnalysisResponse: response is not valid JSON, using fallback parsing")

	confidence := 50
	if m := confidenceRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			confidence = v
		}
	}
	detected := true
	if m := detectedRe.FindStringSubmatch(raw); m != nil {
		detected = strings.EqualFold(m[1], "true")
	}
	name := ""
	if m := nameRe.FindStringSubmatch(raw); m != nil {
		name = m[1]
	}
	return models.FallacyAnalysis{
		ReplyText:       TruncateReply(strings.TrimSpace(raw), models.MaxReplyLength),
		Confidence:      confidence,
		FallacyDetected: detected,
		FallacyName:     name,
	}
}
