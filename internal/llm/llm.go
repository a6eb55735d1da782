// Package llm condenses coding-agent output into a short PR summary.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic API for change summarization.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

const summarySystem = `You summarize code changes for pull request descriptions. Given the user's change request and the coding agent's report, return 1-3 plain sentences describing what changed and why. No markdown, no preamble, no bullet points.`

// SummarizeChange produces a short PR body summary from the request and
// the agent's report. Callers treat any error as non-fatal and fall back
// to the raw request text.
func (c *Client) SummarizeChange(ctx context.Context, request, agentReport string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Change request:\n")
	sb.WriteString(request)
	if strings.TrimSpace(agentReport) != "" {
		sb.WriteString("\n\nAgent report:\n")
		sb.WriteString(agentReport)
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: summarySystem},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}
