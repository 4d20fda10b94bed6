package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
)

// Gemini calls the generateContent endpoint with a JSON response type.
type Gemini struct {
	*client
}

func NewGemini(cfg config.ProviderConfig, logger *zap.Logger) *Gemini {
	return &Gemini{client: newClient("gemini", cfg, logger)}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens  int    `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	model := p.model(req.Model)
	body := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: req.Scaffolder.SystemPrompt()}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Scaffolder.UserPrompt(req.Prompt)}}},
		},
	}
	body.GenerationConfig.MaxOutputTokens = p.cfg.MaxTokens
	body.GenerationConfig.ResponseMimeType = "application/json"

	endpoint := p.endpoint("models", url.PathEscape(model)+":generateContent")
	headers := map[string]string{"x-goog-api-key": p.cfg.APIKey}

	var resp geminiResponse
	if err := p.postJSON(ctx, endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, newError(p.name, KindMalformed, errors.New("response has no candidates"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	files, err := p.files(text.String())
	if err != nil {
		return nil, err
	}
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return &Result{Files: files, TokensUsed: resp.UsageMetadata.TotalTokenCount, Model: model}, nil
}
