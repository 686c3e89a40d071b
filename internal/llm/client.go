// Package llm talks to the external completion API. It exposes one Client
// interface with two backends: the fantasy OpenAI-compatible provider and
// go-openai, both pointed at OpenRouter by default.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse means the API answered but the reply carried no
// usable text.
var ErrMalformedResponse = errors.New("malformed completion response")

// TitleInstruction is the system prompt used by SuggestTitle.
const TitleInstruction = "You name conversations. Reply with a short, specific title " +
	"(at most six words) for the topic of the text you are given. " +
	"Avoid generic titles such as \"Chat\", \"Question\" or \"Conversation\". " +
	"Reply with the title only, without quotes or punctuation at the end."

// Role values accepted in a Turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation sent to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues single completion requests.
type Client interface {
	// Complete sends the conversation to modelID and returns the reply text.
	Complete(ctx context.Context, turns []Turn, modelID string) (string, error)
	// SuggestTitle returns a short topic label for text.
	SuggestTitle(ctx context.Context, text string) (string, error)
}

// APIError is a failed or malformed completion.
type APIError struct {
	Backend string
	Model   string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Backend, e.Model, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is an empty or malformed reply.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// NormalizeRole lower-cases and trims a stored role.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// titleTurns builds the conversation used to name a topic.
func titleTurns(text string) []Turn {
	return []Turn{
		{Role: RoleSystem, Content: TitleInstruction},
		{Role: RoleUser, Content: text},
	}
}

// cleanTitle strips quotes and trailing punctuation models like to add.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimRight(s, ".!:;")
	return strings.TrimSpace(s)
}
