package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HamedShams/sprint-pulse/internal/config"
	"github.com/HamedShams/sprint-pulse/internal/domain"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

type Client struct {
	api   openai.Client
	key   string
	model string
	log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	api := openai.NewClient(
		option.WithAPIKey(cfg.OpenAIKey),
		option.WithRequestTimeout(cfg.OpenAITimeout),
	)
	return &Client{api: api, key: cfg.OpenAIKey, model: cfg.OpenAIModel, log: log}
}

// SummarizeForecast turns the ranked forecast rows into a short commentary
// for the digest. Teams arrive most at-risk first.
func (c *Client) SummarizeForecast(ctx context.Context, rows []domain.TeamForecast) (string, error) {
	if strings.TrimSpace(c.key) == "" { return "", errors.New("openai: missing key") }
	b := &strings.Builder{}
	for _, r := range rows {
		fmt.Fprintf(b, "team=%s next_cycle_optimistic=%d next_cycle_conservative=%d days_until_release=%d current_optimistic=%d\n",
			r.Team, r.NextCycleOptimistic, r.NextCycleConservative, r.DaysUntilRelease, r.CurrentOptimistic)
	}
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a delivery coach. Given per-team throughput forecasts sorted most at-risk first, write a concise plain-text note (max 5 lines) calling out teams unlikely to meet their release and any notable changes. No markdown."),
			openai.UserMessage(b.String()),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil { return "", err }
	if len(resp.Choices) == 0 { return "", errors.New("openai: no choices") }
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
