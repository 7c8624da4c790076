// Package twitter implements the reply publisher for FallacySheriff.
//
// Only posting goes through the X API; reading is handled via RSSHub to
// stay clear of the API's read rate limits. Requests are signed with
// OAuth 1.0a user context, which is what the v2 create-tweet endpoint
// requires for posting on behalf of the bot account.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/dghubble/oauth1"
	"github.com/fallacysheriff/fallacysheriff/internal/models"
)

// Default configuration constants
const (
	// DefaultBaseURL is the X API endpoint.
	DefaultBaseURL = "https://api.twitter.com"
	// DefaultHTTPTimeout bounds a single create-tweet call.
	DefaultHTTPTimeout = 30 * time.Second
)

// Opts holds configuration options for the publisher.
type Opts struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	BaseURL        string
	HTTPClient     *http.Client
}

// Option configures the publisher.
type Option func(*Opts)

// WithCredentials sets the OAuth 1.0a user-context credentials.
func WithCredentials(consumerKey, consumerSecret, accessToken, accessSecret string) Option {
	return func(o *Opts) {
		o.ConsumerKey = consumerKey
		o.ConsumerSecret = consumerSecret
		o.AccessToken = accessToken
		o.AccessSecret = accessSecret
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client, bypassing OAuth signing.
// Intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client posts replies through the X API v2 create-tweet endpoint.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a reply publisher. Credentials are required unless an
// HTTP client override is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.AccessToken == "" || cfg.AccessSecret == "" {
			slog.Error("twitter.NewClient: OAuth credentials incomplete")
			return nil, fmt.Errorf("twitter OAuth credentials not set")
		}
		config := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
		token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
		cfg.HTTPClient = config.Client(oauth1.NoContext, token)
		cfg.HTTPClient.Timeout = DefaultHTTPTimeout
	}
	slog.Debug("twitter.NewClient: publisher configured", "base_url", cfg.BaseURL)
	return &Client{http: cfg.HTTPClient, baseURL: cfg.BaseURL}, nil
}

type createTweetRequest struct {
	Text  string       `json:"text"`
	Reply *replyTarget `json:"reply,omitempty"`
}

type replyTarget struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// PostReply posts text as a reply to replyToTweetID. Text over the
// platform limit is rejected before any network call.
func (c *Client) PostReply(ctx context.Context, replyToTweetID, text string) error {
	if replyToTweetID == "" {
		return models.ErrEmptyTweetID
	}
	if text == "" {
		return models.ErrEmptyReplyText
	}
	if n := utf8.RuneCountInString(text); n > models.MaxReplyLength {
		slog.Error("twitter.PostReply: reply text too long", "length", n, "reply_to", replyToTweetID)
		return models.ErrReplyTooLong
	}

	payload, err := json.Marshal(createTweetRequest{
		Text:  text,
		Reply: &replyTarget{InReplyToTweetID: replyToTweetID},
	})
	if err != nil {
		return fmt.Errorf("encode create tweet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build create tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("twitter.PostReply: request failed", "error", err, "reply_to", replyToTweetID)
		return fmt.Errorf("create tweet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("twitter.PostReply: create tweet rejected", "status", resp.StatusCode, "body", string(body), "reply_to", replyToTweetID)
		return fmt.Errorf("create tweet: status %d: %s", resp.StatusCode, string(body))
	}

	var created createTweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		slog.Warn("twitter.PostReply: could not decode create tweet response", "error", err)
		return nil
	}
	slog.Info("twitter.PostReply: reply posted", "tweet_id", created.Data.ID, "reply_to", replyToTweetID)
	return nil
}
