// Package slack implements dispatch.Dispatcher against a Slack channel,
// a direct generalization of pkg/slack/client.go and pkg/slack/service.go
// (same goslack.Client wrapper, same nil-safe construction pattern),
// renamed from session-completion notifications to post-dispatch messages.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/relaycove/signalrelay/pkg/dispatch"
)

// maxMessageRunes matches spec.md §6's "destination platform's cap
// (≈4096 characters)"; overflow is hard-truncated with an ellipsis marker.
const maxMessageRunes = 4096

// Client sends post-dispatch messages to a single Slack channel.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a Dispatcher posting to channelID with token.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "dispatch-slack"),
	}
}

// NewClientWithAPIURL targets a custom API URL, for tests against a mock
// server, mirroring pkg/slack/client.go's NewClientWithAPIURL.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "dispatch-slack"),
	}
}

// Destination returns the stable name recorded on DispatchRecord.
func (c *Client) Destination() string { return "slack:" + c.channelID }

// Send posts text to the configured channel and classifies the outcome.
func (c *Client) Send(ctx context.Context, postID, text string) (dispatch.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionText(truncate(text), false))
	if err != nil {
		return classifySlackError(err), fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return dispatch.OutcomeOK, nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	const marker = "… (truncated)"
	cut := maxMessageRunes - len([]rune(marker))
	if cut < 0 {
		cut = 0
	}
	return string(r[:cut]) + marker
}

// permanentSlackCodes are chat.postMessage error codes that will never
// succeed on retry — bad credentials, a channel that no longer exists, or
// a malformed request.
var permanentSlackCodes = []string{
	"invalid_auth", "not_authed", "account_inactive", "token_revoked", "channel_not_found",
	"invalid_arguments", "no_text", "msg_too_long", "invalid_blocks",
}

// classifySlackError maps a slack-go error onto an Outcome. Auth and
// malformed-request errors are permanent; everything else (rate limits,
// network errors, 5xx) is treated as transient and retried with backoff.
func classifySlackError(err error) dispatch.Outcome {
	var rlErr *goslack.RateLimitedError
	if errors.As(err, &rlErr) {
		return dispatch.OutcomeTransientFail
	}

	msg := err.Error()
	for _, code := range permanentSlackCodes {
		if strings.Contains(msg, code) {
			return dispatch.OutcomePermanentFail
		}
	}
	return dispatch.OutcomeTransientFail
}
