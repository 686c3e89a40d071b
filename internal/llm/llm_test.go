package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"charm.land/fantasy"

	"github.com/guilhermegouw/relay/internal/config"
	"github.com/guilhermegouw/relay/internal/logging"
)

// mockModel implements fantasy.LanguageModel for testing
type mockModel struct {
	generateFunc func(ctx context.Context, call fantasy.Call) (*fantasy.Response, error)
}

func (m *mockModel) Generate(ctx context.Context, call fantasy.Call) (*fantasy.Response, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, call)
	}
	return &fantasy.Response{}, nil
}

func (m *mockModel) Stream(ctx context.Context, call fantasy.Call) (fantasy.StreamResponse, error) {
	return func(yield func(fantasy.StreamPart) bool) {}, nil
}

func (m *mockModel) GenerateObject(ctx context.Context, call fantasy.ObjectCall) (*fantasy.ObjectResponse, error) {
	return &fantasy.ObjectResponse{}, nil
}

func (m *mockModel) StreamObject(ctx context.Context, call fantasy.ObjectCall) (fantasy.ObjectStreamResponse, error) {
	return func(yield func(fantasy.ObjectStreamPart) bool) {}, nil
}

func (m *mockModel) Provider() string { return "mock" }
func (m *mockModel) Model() string    { return "mock-model" }

var _ fantasy.LanguageModel = (*mockModel)(nil)

type sourceFunc func(ctx context.Context, modelID string) (fantasy.LanguageModel, error)

func (f sourceFunc) LanguageModel(ctx context.Context, modelID string) (fantasy.LanguageModel, error) {
	return f(ctx, modelID)
}

func textResponse(text string) *fantasy.Response {
	return &fantasy.Response{Content: fantasy.ResponseContent{fantasy.TextContent{Text: text}}}
}

func TestFantasyClient_Complete(t *testing.T) {
	t.Run("returns reply text and forwards the conversation", func(t *testing.T) {
		var gotModel string
		var gotPrompt fantasy.Prompt
		model := &mockModel{generateFunc: func(_ context.Context, call fantasy.Call) (*fantasy.Response, error) {
			gotPrompt = call.Prompt
			return textResponse("4"), nil
		}}
		client := NewFantasy(sourceFunc(func(_ context.Context, id string) (fantasy.LanguageModel, error) {
			gotModel = id
			return model, nil
		}), "title-model", logging.Discard())

		got, err := client.Complete(context.Background(), []Turn{
			{Role: "USER", Content: "2+2?"},
		}, "openai/gpt-4.1-mini")
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if got != "4" {
			t.Errorf("Complete() = %q, want %q", got, "4")
		}
		if gotModel != "openai/gpt-4.1-mini" {
			t.Errorf("model = %q, want openai/gpt-4.1-mini", gotModel)
		}
		if len(gotPrompt) != 1 || gotPrompt[0].Role != fantasy.MessageRoleUser {
			t.Errorf("prompt = %+v, want a single user message", gotPrompt)
		}
	})

	t.Run("empty reply is malformed", func(t *testing.T) {
		client := NewFantasy(sourceFunc(func(context.Context, string) (fantasy.LanguageModel, error) {
			return &mockModel{}, nil
		}), "", logging.Discard())

		_, err := client.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}, "m")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Complete() error = %v, want *APIError", err)
		}
		if !IsMalformed(err) {
			t.Errorf("IsMalformed(%v) = false, want true", err)
		}
	})

	t.Run("whitespace-only reply is malformed", func(t *testing.T) {
		client := NewFantasy(sourceFunc(func(context.Context, string) (fantasy.LanguageModel, error) {
			return &mockModel{generateFunc: func(context.Context, fantasy.Call) (*fantasy.Response, error) {
				return textResponse(" \n\t"), nil
			}}, nil
		}), "", logging.Discard())

		if _, err := client.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}, "m"); !IsMalformed(err) {
			t.Errorf("Complete() error = %v, want malformed", err)
		}
	})

	t.Run("model error is an APIError", func(t *testing.T) {
		boom := errors.New("rate limited")
		client := NewFantasy(sourceFunc(func(context.Context, string) (fantasy.LanguageModel, error) {
			return &mockModel{generateFunc: func(context.Context, fantasy.Call) (*fantasy.Response, error) {
				return nil, boom
			}}, nil
		}), "", logging.Discard())

		_, err := client.Complete(context.Background(), nil, "m")
		if !errors.Is(err, boom) {
			t.Errorf("Complete() error = %v, want wrapping %v", err, boom)
		}
		if IsMalformed(err) {
			t.Error("transport failure reported as malformed")
		}
	})
}

func TestFantasyClient_SuggestTitle(t *testing.T) {
	var gotModel string
	var gotPrompt fantasy.Prompt
	client := NewFantasy(sourceFunc(func(_ context.Context, id string) (fantasy.LanguageModel, error) {
		gotModel = id
		return &mockModel{generateFunc: func(_ context.Context, call fantasy.Call) (*fantasy.Response, error) {
			gotPrompt = call.Prompt
			return textResponse("\"Basic Arithmetic.\"\n"), nil
		}}, nil
	}), "title-model", logging.Discard())

	got, err := client.SuggestTitle(context.Background(), "2 + 2 equals 4")
	if err != nil {
		t.Fatalf("SuggestTitle() error = %v", err)
	}
	if got != "Basic Arithmetic" {
		t.Errorf("SuggestTitle() = %q, want %q", got, "Basic Arithmetic")
	}
	if gotModel != "title-model" {
		t.Errorf("model = %q, want title-model", gotModel)
	}
	if len(gotPrompt) != 2 || gotPrompt[0].Role != fantasy.MessageRoleSystem {
		t.Errorf("prompt = %+v, want system instruction then text", gotPrompt)
	}
}

func TestOpenAIClient(t *testing.T) {
	var gotReferrer, gotTitle string
	var gotBody struct {
		Model    string `json:"model"`
		Messages []Turn `json:"messages"`
	}
	choices := true

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferrer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck // asserted below
		w.Header().Set("Content-Type", "application/json")
		if !choices {
			_, _ = w.Write([]byte(`{"id":"x","choices":[]}`)) //nolint:errcheck // test server
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"4"}}]}`)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIOptions{
		APIKey:     "key",
		BaseURL:    srv.URL,
		Referrer:   "relay-test",
		AppTitle:   "Relay",
		TitleModel: "title-model",
	}, logging.Discard())

	t.Run("returns first choice", func(t *testing.T) {
		got, err := client.Complete(context.Background(), []Turn{{Role: "User", Content: "2+2?"}}, "m1")
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if got != "4" {
			t.Errorf("Complete() = %q, want 4", got)
		}
		if gotReferrer != "relay-test" || gotTitle != "Relay" {
			t.Errorf("headers = (%q, %q), want attribution headers", gotReferrer, gotTitle)
		}
		if gotBody.Model != "m1" || len(gotBody.Messages) != 1 || gotBody.Messages[0].Role != "user" {
			t.Errorf("request body = %+v", gotBody)
		}
	})

	t.Run("missing choices is malformed", func(t *testing.T) {
		choices = false
		defer func() { choices = true }()

		_, err := client.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}, "m1")
		if !IsMalformed(err) {
			t.Errorf("Complete() error = %v, want malformed", err)
		}
	})
}

func TestInstrumented(t *testing.T) {
	inner := NewFantasy(sourceFunc(func(context.Context, string) (fantasy.LanguageModel, error) {
		return &mockModel{generateFunc: func(context.Context, fantasy.Call) (*fantasy.Response, error) {
			return textResponse("ok"), nil
		}}, nil
	}), "t", logging.Discard())

	client, err := Instrument(inner, BackendFantasy, 0)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	got, err := client.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "x"}}, "m")
	if err != nil || got != "ok" {
		t.Errorf("Complete() = (%q, %v), want (ok, nil)", got, err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"fantasy", config.BackendFantasy, false},
		{"openai", config.BackendOpenAI, false},
		{"unknown", "carrier-pigeon", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().LLM
			cfg.Backend = tt.backend
			cfg.APIKey = "key"
			_, err := New(cfg, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"Basic Arithmetic":         "Basic Arithmetic",
		"  \"Quantum Tunneling\" ": "Quantum Tunneling",
		"Go Generics.":             "Go Generics",
		"Title\nextra line":        "Title",
	}
	for in, want := range tests {
		if got := cleanTitle(in); got != want {
			t.Errorf("cleanTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
