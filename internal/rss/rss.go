// Package rss implements the RSSHub-backed mention source for FallacySheriff.
//
// Reading goes through RSSHub feeds instead of the X API, which sidesteps
// the API's read rate limits. The client fetches the bot's mention feed,
// normalizes entries into models.Mention values, and walks the reply chain
// above a mention to obtain the tweet to analyze plus optional context.
package rss

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/mmcdole/gofeed"
)

// Default configuration constants
const (
	// DefaultRSSHubURL is the default base URL of the RSSHub instance.
	DefaultRSSHubURL = "http://localhost:1200"
	// DefaultHTTPTimeout bounds a single feed fetch.
	DefaultHTTPTimeout = 30 * time.Second
)

var (
	statusLinkRe = regexp.MustCompile(`(?:twitter\.com|x\.com)/(\w+)/status/(\d+)`)
	hrefStatusRe = regexp.MustCompile(`href=["']?(https?://(?:twitter\.com|x\.com)/(\w+)/status/(\d+))["']?`)
	replyingToRe = regexp.MustCompile(`(?i)Replying to @(\w+)`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// Opts holds configuration options for the RSS client.
type Opts struct {
	RSSHubURL   string
	AccessKey   string
	BotUsername string
	HTTPClient  *http.Client
}

// Option configures the RSS client.
type Option func(*Opts)

// WithRSSHubURL sets the RSSHub base URL.
func WithRSSHubURL(u string) Option {
	return func(o *Opts) { o.RSSHubURL = u }
}

// WithAccessKey sets the RSSHub access key appended to feed URLs.
func WithAccessKey(key string) Option {
	return func(o *Opts) { o.AccessKey = key }
}

// WithBotUsername sets the bot account whose mentions are fetched.
func WithBotUsername(name string) Option {
	return func(o *Opts) { o.BotUsername = name }
}

// WithHTTPClient overrides the HTTP client used for feed fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client fetches tweets and mentions via RSSHub feeds.
type Client struct {
	parser      *gofeed.Parser
	baseURL     string
	accessKey   string
	botUsername string
}

// NewClient creates an RSS client for the configured RSSHub instance.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BotUsername == "" {
		return nil, fmt.Errorf("bot username not set")
	}
	if cfg.RSSHubURL == "" {
		cfg.RSSHubURL = DefaultRSSHubURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	parser := gofeed.NewParser()
	parser.Client = cfg.HTTPClient

	slog.Debug("rss.NewClient: client configured", "rsshub_url", cfg.RSSHubURL, "bot_username", cfg.BotUsername, "access_key_set", cfg.AccessKey != "")
	return &Client{
		parser:      parser,
		baseURL:     strings.TrimRight(cfg.RSSHubURL, "/"),
		accessKey:   cfg.AccessKey,
		botUsername: cfg.BotUsername,
	}, nil
}

// feedURL builds a full RSSHub URL with the optional access key.
func (c *Client) feedURL(path string) string {
	u := c.baseURL + path
	if c.accessKey != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "key=" + c.accessKey
	}
	return u
}

// FetchMentions fetches mentions of the bot newer than sinceID, oldest
// entries and newest alike in feed order. An empty sinceID returns
// everything the feed currently carries.
func (c *Client) FetchMentions(ctx context.Context, sinceID string) ([]models.Mention, error) {
	u := c.feedURL("/twitter/keyword/@" + c.botUsername)
	slog.Info("rss.FetchMentions: fetching mention feed", "url", u, "since_id", sinceID)

	feed, err := c.parser.ParseURLWithContext(u, ctx)
	if err != nil {
		slog.Error("rss.FetchMentions: feed fetch failed", "error", err)
		return nil, fmt.Errorf("fetch mention feed: %w", err)
	}

	var mentions []models.Mention
	for _, item := range feed.Items {
		m, ok := mentionFromItem(item)
		if !ok {
			slog.Debug("rss.FetchMentions: skipping entry without tweet link", "link", item.Link)
			continue
		}
		// The adapter contract is to return only mentions newer than the cursor.
		if sinceID != "" && models.CompareTweetIDs(m.TweetID, sinceID) <= 0 {
			slog.Debug("rss.FetchMentions: entry at or below cursor", "tweet_id", m.TweetID, "since_id", sinceID)
			continue
		}
		mentions = append(mentions, m)
	}
	slog.Info("rss.FetchMentions: mention feed parsed", "total_entries", len(feed.Items), "mentions", len(mentions))
	return mentions, nil
}

// FetchTweet fetches a single tweet via its RSSHub status feed.
func (c *Client) FetchTweet(ctx context.Context, tweetID, username string) (*models.Tweet, error) {
	u := c.feedURL("/twitter/tweet/" + username + "/status/" + tweetID)
	slog.Debug("rss.FetchTweet: fetching tweet feed", "url", u, "tweet_id", tweetID)

	feed, err := c.parser.ParseURLWithContext(u, ctx)
	if err != nil {
		slog.Error("rss.FetchTweet: feed fetch failed", "error", err, "tweet_id", tweetID)
		return nil, fmt.Errorf("fetch tweet %s: %w", tweetID, err)
	}
	if len(feed.Items) == 0 {
		slog.Warn("rss.FetchTweet: no entries for tweet", "tweet_id", tweetID)
		return nil, models.ErrNoFeedEntries
	}

	item := feed.Items[0]
	raw := rawContent(item)
	replyToID, replyToUser := extractReplyInfo(raw)
	return &models.Tweet{
		TweetID:       tweetID,
		Text:          cleanText(raw),
		Author:        username,
		InReplyToID:   replyToID,
		InReplyToUser: replyToUser,
	}, nil
}

// FetchThread resolves the two-level reply chain above a mention: the
// parent tweet (the one to analyze) and, when the parent is itself a
// reply, the grandparent tweet as context. A missing grandparent is not an
// error; a missing parent is.
func (c *Client) FetchThread(ctx context.Context, mention models.Mention) (models.Thread, error) {
	if mention.InReplyToID == "" || mention.InReplyToUser == "" {
		slog.Warn("rss.FetchThread: mention missing reply-to info", "tweet_id", mention.TweetID)
		return models.Thread{}, models.ErrMissingParent
	}

	parent, err := c.FetchTweet(ctx, mention.InReplyToID, mention.InReplyToUser)
	if err != nil {
		slog.Error("rss.FetchThread: could not fetch parent tweet", "error", err, "parent_id", mention.InReplyToID)
		return models.Thread{}, fmt.Errorf("fetch parent tweet: %w", err)
	}

	thread := models.Thread{TargetText: parent.Text}
	if parent.InReplyToID != "" && parent.InReplyToUser != "" {
		grandparent, err := c.FetchTweet(ctx, parent.InReplyToID, parent.InReplyToUser)
		if err != nil {
			slog.Warn("rss.FetchThread: could not fetch context tweet, proceeding without it", "error", err, "context_id", parent.InReplyToID)
		} else {
			thread.ContextText = grandparent.Text
		}
	}
	return thread, nil
}

// mentionFromItem converts a feed entry into a Mention. Entries whose link
// does not carry a tweet ID and author are dropped.
func mentionFromItem(item *gofeed.Item) (models.Mention, bool) {
	match := statusLinkRe.FindStringSubmatch(item.Link)
	if match == nil {
		return models.Mention{}, false
	}
	author, tweetID := match[1], match[2]

	raw := rawContent(item)
	replyToID, replyToUser := extractReplyInfo(raw)

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	}

	return models.Mention{
		TweetID:       tweetID,
		Text:          cleanText(raw),
		Author:        author,
		InReplyToID:   replyToID,
		InReplyToUser: replyToUser,
		PublishedAt:   published,
		Link:          item.Link,
	}, true
}

// rawContent returns the entry's HTML payload, preferring the description
// over the content block as RSSHub fills the former for tweets.
func rawContent(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}

// cleanText strips HTML tags, unescapes entities, and collapses whitespace.
func cleanText(raw string) string {
	text := htmlTagRe.ReplaceAllString(raw, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// extractReplyInfo pulls the parent tweet ID and author out of an entry's
// HTML. RSSHub embeds the parent status link in replies; failing that, a
// "Replying to @user" marker yields the username alone.
func extractReplyInfo(raw string) (tweetID, username string) {
	if match := hrefStatusRe.FindStringSubmatch(raw); match != nil {
		return match[3], match[2]
	}
	if match := replyingToRe.FindStringSubmatch(raw); match != nil {
		return "", match[1]
	}
	return "", ""
}
