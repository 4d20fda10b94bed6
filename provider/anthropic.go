package provider

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the messages endpoint.
type Anthropic struct {
	*client
}

func NewAnthropic(cfg config.ProviderConfig, logger *zap.Logger) *Anthropic {
	return &Anthropic{client: newClient("anthropic", cfg, logger)}
}

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Anthropic) Generate(ctx context.Context, req Request) (*Result, error) {
	body := anthropicRequest{
		Model:     p.model(req.Model),
		MaxTokens: p.cfg.MaxTokens,
		System:    req.Scaffolder.SystemPrompt(),
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 8000
	}
	body.Messages = append(body.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: req.Scaffolder.UserPrompt(req.Prompt)})

	var resp anthropicResponse
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
	if err := p.postJSON(ctx, p.endpoint("messages"), headers, body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, newError(p.name, KindMalformed, errors.New("response has no text content"))
	}

	files, err := p.files(text.String())
	if err != nil {
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = body.Model
	}
	return &Result{Files: files, TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens, Model: model}, nil
}
