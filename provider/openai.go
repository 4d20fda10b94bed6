package provider

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
)

// OpenAI calls the chat completions endpoint in JSON mode.
type OpenAI struct {
	*client
}

func NewOpenAI(cfg config.ProviderConfig, logger *zap.Logger) *OpenAI {
	return &OpenAI{client: newClient("openai", cfg, logger)}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	body := openAIRequest{
		Model: p.model(req.Model),
		Messages: []openAIMessage{
			{Role: "system", Content: req.Scaffolder.SystemPrompt()},
			{Role: "user", Content: req.Scaffolder.UserPrompt(req.Prompt)},
		},
		MaxTokens: p.cfg.MaxTokens,
	}
	body.ResponseFormat.Type = "json_object"

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := p.postJSON(ctx, p.endpoint("chat", "completions"), headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, newError(p.name, KindMalformed, errors.New("response has no choices"))
	}

	files, err := p.files(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = body.Model
	}
	return &Result{Files: files, TokensUsed: resp.Usage.TotalTokens, Model: model}, nil
}
