// Package models defines the core data structures for FallacySheriff.
//
// It includes types for mentions discovered via RSS, fallacy analysis
// results, and poll-cycle reporting, which are shared across modules.
package models

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTriggerPhrase is the substring a mention must contain for the bot
// to act on it. Matching is case-insensitive.
const DefaultTriggerPhrase = "fallacyme"

// MaxReplyLength is the platform's maximum post length in characters.
const MaxReplyLength = 280

// Error variables for better error handling and testability
var (
	ErrEmptyTweetID    = errors.New("tweet ID cannot be empty")
	ErrEmptyReplyText  = errors.New("reply text cannot be empty")
	ErrReplyTooLong    = errors.New("reply text exceeds maximum post length")
	ErrMissingParent   = errors.New("mention has no parent tweet to analyze")
	ErrNoFeedEntries   = errors.New("feed contained no entries")
	ErrCycleInProgress = errors.New("poll cycle already in progress")
)

// Mention is a candidate interaction discovered by the mention source.
// A Mention is immutable once retrieved; TweetID is unique per source.
type Mention struct {
	TweetID       string    `json:"tweet_id"`
	Text          string    `json:"text"`
	Author        string    `json:"author"`
	InReplyToID   string    `json:"in_reply_to_id,omitempty"`
	InReplyToUser string    `json:"in_reply_to_user,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	Link          string    `json:"link,omitempty"`
}

// IsEligible reports whether the mention should trigger the pipeline:
// the text contains the trigger phrase (case-insensitive substring) and the
// mention is a reply to another tweet.
func (m Mention) IsEligible(trigger string) bool {
	if trigger == "" {
		trigger = DefaultTriggerPhrase
	}
	if !strings.Contains(strings.ToLower(m.Text), strings.ToLower(trigger)) {
		return false
	}
	return m.InReplyToID != ""
}

// Tweet is a single tweet fetched from the mention source, used when
// walking the reply chain above a mention.
type Tweet struct {
	TweetID       string `json:"tweet_id"`
	Text          string `json:"text"`
	Author        string `json:"author"`
	InReplyToID   string `json:"in_reply_to_id,omitempty"`
	InReplyToUser string `json:"in_reply_to_user,omitempty"`
}

// Thread is the resolved two-level reply chain above a mention: the parent
// tweet to analyze and, when the parent is itself a reply, the grandparent
// tweet as context.
type Thread struct {
	TargetText  string `json:"target_text"`
	ContextText string `json:"context_text,omitempty"`
}

// FallacyAnalysis is the analysis service's verdict on a target tweet.
type FallacyAnalysis struct {
	ReplyText       string `json:"reply_text"`
	Confidence      int    `json:"confidence"` // 0-100
	FallacyDetected bool   `json:"fallacy_detected"`
	FallacyName     string `json:"fallacy_name,omitempty"`
}

// PollSummary reports the outcome of one poll cycle.
type PollSummary struct {
	Fetched   int  `json:"fetched"`
	Eligible  int  `json:"eligible"`
	Processed int  `json:"processed"`
	Replied   int  `json:"replied"`
	Errors    int  `json:"errors"`
	Skipped   bool `json:"skipped,omitempty"` // another cycle was in progress
}

// PollStatus is the durable poll state exposed on the status endpoint.
type PollStatus struct {
	LastSeenID        string     `json:"last_seen_id,omitempty"`
	MentionsProcessed int64      `json:"mentions_processed"`
	LastPollTime      *time.Time `json:"last_poll_time,omitempty"`
}

// CompareTweetIDs orders two tweet IDs, returning -1, 0, or 1. Tweet IDs
// are numeric snowflake strings, so numeric comparison is used when both
// parse; otherwise longer strings sort after shorter ones, then lexically.
func CompareTweetIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// StatusOK indicates a successful API operation.
	StatusOK APIStatus = "ok"
	// StatusError indicates a failed API operation.
	StatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(StatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(StatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(StatusError), Message: message}
}
