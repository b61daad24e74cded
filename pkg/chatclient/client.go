// Package chatclient implements the client-side send loop for the chat turn
// endpoint: an explicit bounded state machine with exponential backoff on
// server errors, a per-attempt abort timeout, and a manual retry affordance
// that replays the exact staged content.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/budget"
)

// State is the send loop's position. Transitions:
// Idle -> Sending -> {Succeeded | Backoff -> Sending | Failed}.
type State int

const (
	StateIdle State = iota
	StateSending
	StateBackoff
	StateFailed
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Message is one visible transcript entry. Failed marks the synthetic
// assistant entry shown for a terminal error; TimedOut narrows it to the
// abort-timeout case.
type Message struct {
	ID       string
	Role     string
	Content  string
	Failed   bool
	TimedOut bool
}

const (
	failedContent  = "I'm having trouble connecting right now. Please try again in a moment."
	timeoutContent = "That took too long to answer. Please try sending your message again."
)

type turnRequest struct {
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id,omitempty"`
	Messages       []turnMessage     `json:"messages"`
	ClientMetadata map[string]string `json:"client_metadata,omitempty"`
}

type turnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnResponse struct {
	AssistantMessage struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"assistant_message"`
	Model    string `json:"model"`
	TimingMs int64  `json:"timing_ms"`
}

// Client drives one conversation against the chat turn endpoint. It is not
// safe for concurrent use; it models a single user's input loop.
type Client struct {
	endpoint       string
	conversationID string
	userID         string
	budget         budget.Budget
	http           *http.Client

	// sleep waits out a backoff and is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	state          State
	transcript     []Message
	input          string
	staged         string
	lastRetryCount int
	loading        bool
}

// NewClient builds a client for one conversation. The UI tier of the budget
// is the per-attempt abort timeout; its retry fields bound the loop.
func NewClient(endpoint, conversationID, userID string, b budget.Budget) *Client {
	return &Client{
		endpoint:       endpoint,
		conversationID: conversationID,
		userID:         userID,
		budget:         b,
		http:           &http.Client{},
		sleep:          sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State reports the loop's current position.
func (c *Client) State() State { return c.state }

// Loading reports whether a send is in flight or backing off.
func (c *Client) Loading() bool { return c.loading }

// Transcript returns the visible messages, including any synthetic error
// entry.
func (c *Client) Transcript() []Message { return c.transcript }

// SetInput stages text in the input field, as typing would.
func (c *Client) SetInput(text string) { c.input = text }

// Send submits content as a new user turn and runs the retry loop. The user
// message is appended to the transcript exactly once, on the first attempt;
// retries reuse it.
func (c *Client) Send(ctx context.Context, content string) error {
	if content == "" {
		return errors.New("cannot send an empty message")
	}

	c.input = ""
	c.loading = true
	c.staged = content
	c.lastRetryCount = 0
	c.transcript = append(c.transcript, Message{
		ID:      uuid.NewString(),
		Role:    "user",
		Content: content,
	})

	return c.run(ctx, 0)
}

// RetryLast replays the staged content after a terminal failure, resuming the
// attempt counter where the failed loop stopped. The original user message is
// already in the transcript and is not re-added.
func (c *Client) RetryLast(ctx context.Context) error {
	if c.state != StateFailed || c.staged == "" {
		return errors.New("no failed send to retry")
	}
	c.loading = true
	return c.run(ctx, c.lastRetryCount+1)
}

// run is the bounded send loop. Termination: every iteration either returns
// or increments attempt, and attempt is capped by the retry ceiling.
func (c *Client) run(ctx context.Context, attempt int) error {
	for {
		c.state = StateSending

		resp, err := c.post(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// An abort is terminal for this send; it never auto-retries.
				c.fail(attempt, true)
				return fmt.Errorf("request timed out after %s: %w", c.budget.UI, err)
			}
			if errors.Is(err, context.Canceled) {
				c.fail(attempt, false)
				return err
			}
			// Transport-level failure: the upstream is unreachable, which the
			// loop treats like a 5xx.
			if attempt < c.budget.RetryAttempts {
				if backoffErr := c.backoff(ctx, attempt); backoffErr != nil {
					c.fail(attempt, false)
					return backoffErr
				}
				attempt++
				continue
			}
			c.fail(attempt, false)
			return fmt.Errorf("send failed after %d attempts: %w", attempt+1, err)
		}

		if resp.statusCode >= 500 {
			if attempt < c.budget.RetryAttempts {
				slog.Warn("Chat turn failed, retrying",
					"status", resp.statusCode, "attempt", attempt)
				if backoffErr := c.backoff(ctx, attempt); backoffErr != nil {
					c.fail(attempt, false)
					return backoffErr
				}
				attempt++
				continue
			}
			c.fail(attempt, false)
			return fmt.Errorf("send failed after %d attempts: server returned status %d",
				attempt+1, resp.statusCode)
		}

		if resp.statusCode >= 400 {
			// Client errors are never retried.
			c.fail(attempt, false)
			return fmt.Errorf("server rejected the message: status %d: %s",
				resp.statusCode, resp.errMessage)
		}

		c.transcript = append(c.transcript, Message{
			ID:      resp.body.AssistantMessage.ID,
			Role:    "assistant",
			Content: resp.body.AssistantMessage.Content,
		})
		c.state = StateSucceeded
		c.staged = ""
		c.lastRetryCount = 0
		c.loading = false
		return nil
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	c.state = StateBackoff
	return c.sleep(ctx, c.budget.RetryDelay(attempt))
}

// fail records the terminal state and appends one synthetic assistant entry.
func (c *Client) fail(attempt int, timedOut bool) {
	content := failedContent
	if timedOut {
		content = timeoutContent
	}
	c.transcript = append(c.transcript, Message{
		ID:       uuid.NewString(),
		Role:     "assistant",
		Content:  content,
		Failed:   true,
		TimedOut: timedOut,
	})
	c.state = StateFailed
	c.lastRetryCount = attempt
	c.loading = false
}

type attemptResult struct {
	statusCode int
	body       turnResponse
	errMessage string
}

// post performs one HTTP attempt under the UI-tier abort timeout. The full
// transcript of real turns (never the synthetic error entries) is sent so the
// server sees the conversation context.
func (c *Client) post(ctx context.Context) (*attemptResult, error) {
	reqBody := turnRequest{
		ConversationID: c.conversationID,
		UserID:         c.userID,
		ClientMetadata: map[string]string{"client": "chatclient"},
	}
	for _, m := range c.transcript {
		if m.Failed {
			continue
		}
		reqBody.Messages = append(reqBody.Messages, turnMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat turn request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.budget.UI)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat turn response: %w", err)
	}

	result := &attemptResult{statusCode: resp.StatusCode}
	if resp.StatusCode >= 400 {
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &errBody) == nil {
			result.errMessage = errBody.Message
		}
		return result, nil
	}

	if err := json.Unmarshal(raw, &result.body); err != nil {
		return nil, fmt.Errorf("failed to parse chat turn response: %w", err)
	}
	return result, nil
}
