// Package anthropic implements analysis.Analyzer atop the Anthropic Go SDK,
// grounded on jordigilh-kubernaut's direct dependency on the same SDK (the
// pack's one example of a real Anthropic Go client, even though it has no
// retained call-site source to imitate line for line).
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaycove/signalrelay/pkg/analysis"
	"github.com/relaycove/signalrelay/pkg/relayerr"
)

// pricePerMillionTokens is a coarse, model-keyed cost table used to turn a
// completion's token usage into a USD estimate for daily_analysis_cost.
// Unknown models fall back to the haiku rate rather than erroring — the
// ceiling check only needs an estimate, not an invoice-grade figure.
var pricePerMillionTokens = map[string]float64{
	"claude-3-5-haiku-latest":  1.00,
	"claude-3-5-sonnet-latest": 3.00,
	"claude-3-opus-latest":     15.00,
}

// Client wraps the Anthropic SDK client for the single-turn "summarize this
// post" call the analysis pipeline makes.
type Client struct {
	api anthropic.Client
}

// NewClient creates an Analyzer backed by the given API key.
func NewClient(apiKey string) *Client {
	return &Client{api: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Analyze sends prompt as a single user turn and returns the completion
// text plus token usage and a cost estimate.
func (c *Client) Analyze(ctx context.Context, prompt, model string, params map[string]any) (analysis.Result, error) {
	maxTokens := int64(1024)
	if v, ok := params["max_tokens"]; ok {
		if n, ok := v.(int); ok {
			maxTokens = int64(n)
		}
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return analysis.Result{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	totalTokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	return analysis.Result{
		OutputText: text,
		TokensUsed: totalTokens,
		CostUSD:    estimateCost(model, totalTokens),
	}, nil
}

func estimateCost(model string, tokens int) float64 {
	rate, ok := pricePerMillionTokens[model]
	if !ok {
		rate = pricePerMillionTokens["claude-3-5-haiku-latest"]
	}
	return float64(tokens) / 1_000_000 * rate
}

// classifyAnthropicError maps SDK errors onto the pipeline's error
// taxonomy so analysis.Worker can decide retry/alert policy without
// knowing about Anthropic-specific types.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return relayerr.Classify(relayerr.UpstreamRateLimit, "anthropic rate limit", err)
		case 401, 403:
			return relayerr.Classify(relayerr.UpstreamRejected, "anthropic auth failure", err)
		case 400, 422:
			return relayerr.Classify(relayerr.UpstreamRejected, "anthropic rejected request", err)
		case 500, 502, 503, 504:
			return relayerr.Classify(relayerr.TransientNetwork, "anthropic server error", err)
		}
	}
	return relayerr.Classify(relayerr.TransientNetwork, fmt.Sprintf("anthropic call failed: %v", err), err)
}
