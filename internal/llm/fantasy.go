package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openai"
)

// BackendFantasy names the fantasy backend in errors and telemetry.
const BackendFantasy = "fantasy"

// ModelSource resolves a model identifier to a language model.
// fantasy.Provider satisfies it.
type ModelSource interface {
	LanguageModel(ctx context.Context, modelID string) (fantasy.LanguageModel, error)
}

// FantasyClient completes through a fantasy provider.
type FantasyClient struct {
	source     ModelSource
	titleModel string
	logger     *slog.Logger
}

// FantasyOptions configures NewFantasyProvider.
type FantasyOptions struct {
	BaseURL  string
	APIKey   string
	Referrer string
	AppTitle string
}

// NewFantasyProvider builds the OpenAI-compatible fantasy provider with
// the OpenRouter attribution headers.
func NewFantasyProvider(opts FantasyOptions) (fantasy.Provider, error) {
	var providerOpts []openai.Option
	if opts.APIKey != "" {
		providerOpts = append(providerOpts, openai.WithAPIKey(opts.APIKey))
	}
	if headers := attributionHeaders(opts.Referrer, opts.AppTitle); len(headers) > 0 {
		providerOpts = append(providerOpts, openai.WithHeaders(headers))
	}
	if opts.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(providerOpts...)
}

// NewFantasy returns a client that resolves models through source.
func NewFantasy(source ModelSource, titleModel string, logger *slog.Logger) *FantasyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FantasyClient{source: source, titleModel: titleModel, logger: logger}
}

// Complete implements Client.
func (c *FantasyClient) Complete(ctx context.Context, turns []Turn, modelID string) (string, error) {
	model, err := c.source.LanguageModel(ctx, modelID)
	if err != nil {
		return "", &APIError{Backend: BackendFantasy, Model: modelID, Err: fmt.Errorf("resolving model: %w", err)}
	}

	resp, err := model.Generate(ctx, fantasy.Call{Prompt: toPrompt(turns)})
	if err != nil {
		return "", &APIError{Backend: BackendFantasy, Model: modelID, Err: err}
	}
	if resp == nil {
		return "", &APIError{Backend: BackendFantasy, Model: modelID, Err: ErrMalformedResponse}
	}
	text := resp.Content.Text()
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("empty completion", "model", modelID)
		return "", &APIError{Backend: BackendFantasy, Model: modelID, Err: ErrMalformedResponse}
	}
	return text, nil
}

// SuggestTitle implements Client.
func (c *FantasyClient) SuggestTitle(ctx context.Context, text string) (string, error) {
	title, err := c.Complete(ctx, titleTurns(text), c.titleModel)
	if err != nil {
		return "", err
	}
	return cleanTitle(title), nil
}

func toPrompt(turns []Turn) fantasy.Prompt {
	prompt := make(fantasy.Prompt, 0, len(turns))
	for _, t := range turns {
		switch NormalizeRole(t.Role) {
		case RoleSystem:
			prompt = append(prompt, fantasy.NewSystemMessage(t.Content))
		case RoleAssistant:
			prompt = append(prompt, fantasy.Message{
				Role:    fantasy.MessageRoleAssistant,
				Content: []fantasy.MessagePart{fantasy.TextPart{Text: t.Content}},
			})
		default:
			prompt = append(prompt, fantasy.NewUserMessage(t.Content))
		}
	}
	return prompt
}

func attributionHeaders(referrer, title string) map[string]string {
	headers := map[string]string{}
	if referrer != "" {
		headers["HTTP-Referer"] = referrer
	}
	if title != "" {
		headers["X-Title"] = title
	}
	return headers
}
