// Package gemini implements llm.Provider on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/papercomputeco/storyloom/pkg/llm"
)

const (
	Name = "gemini"

	DefaultModel = "gemini-2.5-flash"
)

// Every harm category is configured to block nothing; policy is enforced by
// the compliance reviewer instead.
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Config holds configuration for the Gemini provider.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Provider calls generateContent through a genai.Client.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini", llm.ErrMissingCredential)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return Name }

// toContents maps the conversation onto user and model roles. Gemini has no
// in-conversation system role, so system turns go on the user side.
func toContents(messages []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleModel
		if m.UserEquivalent() {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// Generate calls generateContent and reports prompt or candidate safety
// blocks through Response.Blocked.
func (p *Provider) Generate(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: safetySettings,
		Temperature:    r.Temperature,
	}
	if r.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(r.System, genai.RoleUser)
	}
	if r.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(r.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, toContents(r.Messages), cfg)
	if err != nil {
		return nil, classify(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return &llm.Response{Blocked: true, BlockReason: string(resp.PromptFeedback.BlockReason)}, nil
	}
	if len(resp.Candidates) > 0 {
		switch reason := resp.Candidates[0].FinishReason; reason {
		case genai.FinishReasonSafety,
			genai.FinishReasonProhibitedContent,
			genai.FinishReasonBlocklist,
			genai.FinishReasonSPII:
			return &llm.Response{Blocked: true, BlockReason: string(reason)}, nil
		}
	}

	return &llm.Response{Text: resp.Text()}, nil
}

// classify wraps authentication-shaped API errors in llm.ErrInvalidCredential.
func classify(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("gemini generate: %w", err)
	}

	if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden ||
		strings.Contains(apiErr.Message, "API key") {
		return fmt.Errorf("%w: gemini: %w", llm.ErrInvalidCredential, err)
	}
	return fmt.Errorf("gemini generate: %w", err)
}

var _ llm.Provider = (*Provider)(nil)
