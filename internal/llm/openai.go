package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// BackendOpenAI names the go-openai backend in errors and telemetry.
const BackendOpenAI = "openai"

// OpenAIClient completes through the chat completions endpoint of any
// OpenAI-compatible API.
type OpenAIClient struct {
	client     *openai.Client
	titleModel string
	logger     *slog.Logger
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Referrer   string
	AppTitle   string
	TitleModel string
	HTTPClient *http.Client
}

// NewOpenAI creates a go-openai backed client.
func NewOpenAI(opts OpenAIOptions, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Referrer != "" || opts.AppTitle != "" {
		h := http.Header{}
		for k, v := range attributionHeaders(opts.Referrer, opts.AppTitle) {
			h.Set(k, v)
		}
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{Transport: headerTransport{rt: base, headers: h}, Timeout: httpClient.Timeout}
	}
	config.HTTPClient = httpClient

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(config),
		titleModel: opts.TitleModel,
		logger:     logger,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, turns []Turn, modelID string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: NormalizeRole(t.Role), Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: msgs,
	})
	if err != nil {
		return "", &APIError{Backend: BackendOpenAI, Model: modelID, Err: err}
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("completion without choices", "model", modelID, "id", resp.ID)
		return "", &APIError{Backend: BackendOpenAI, Model: modelID, Err: ErrMalformedResponse}
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", &APIError{Backend: BackendOpenAI, Model: modelID, Err: ErrMalformedResponse}
	}
	return text, nil
}

// SuggestTitle implements Client.
func (c *OpenAIClient) SuggestTitle(ctx context.Context, text string) (string, error) {
	title, err := c.Complete(ctx, titleTurns(text), c.titleModel)
	if err != nil {
		return "", err
	}
	return cleanTitle(title), nil
}
