package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/message"
)

func TestClient_SendAndWait(t *testing.T) {
	var polls atomic.Int32
	var gotSend SendRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send-message", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotSend) //nolint:errcheck // asserted below
		_, _ = w.Write([]byte(`{"status":"ok","message_id":5}`)) //nolint:errcheck // test server
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, _ *http.Request) {
		history := []*message.Message{{ID: 5, Role: message.RoleUser, Content: "2+2?", State: message.StatePending}}
		if polls.Add(1) >= 3 {
			history[0].State = message.StateCompleted
			history = append(history, &message.Message{ID: 6, Role: message.RoleAssistant, Content: "4", State: message.StateCompleted})
		}
		_ = json.NewEncoder(w).Encode(history) //nolint:errcheck // test server
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	id, err := c.Send(ctx, SendRequest{SessionID: "s1", Content: "2+2?", Model: "m1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != 5 || gotSend.SessionID != "s1" || gotSend.Content != "2+2?" {
		t.Errorf("Send() = %d with body %+v", id, gotSend)
	}

	reply, err := c.Wait(ctx, "s1", id, delivery.Poller{Interval: time.Millisecond, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if reply.State != message.StateCompleted || reply.Content != "4" {
		t.Errorf("reply = %+v, want completed 4", reply)
	}
	if polls.Load() != 3 {
		t.Errorf("history polled %d times, want 3", polls.Load())
	}
}

func TestClient_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send-message", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"content is required"}`)) //nolint:errcheck // test server
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`)) //nolint:errcheck // test server
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.Send(context.Background(), SendRequest{SessionID: "s1"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Send() error = %v, want *Error", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "content is required" {
		t.Errorf("error = %+v", apiErr)
	}

	_, err = c.Wait(context.Background(), "s1", 1, delivery.Poller{Interval: time.Millisecond})
	if !errors.Is(err, ErrMessageGone) {
		t.Errorf("Wait() error = %v, want ErrMessageGone", err)
	}
}

func TestFindReply(t *testing.T) {
	history := []*message.Message{
		{ID: 1, Role: message.RoleUser, State: message.StateCompleted},
		{ID: 2, Role: message.RoleAssistant, Content: "first", State: message.StateCompleted},
		{ID: 3, Role: message.RoleUser, State: message.StateFailed},
		{ID: 4, Role: message.RoleUser, State: message.StatePending},
		// Two queued prompts answered after both were stored.
		{ID: 5, Role: message.RoleUser, State: message.StateCompleted},
		{ID: 6, Role: message.RoleUser, State: message.StateCompleted},
		{ID: 7, Role: message.RoleAssistant, Content: "fifth", State: message.StateCompleted},
		{ID: 8, Role: message.RoleAssistant, Content: "sixth", State: message.StateCompleted},
	}
	tests := []struct {
		id        int64
		wantFound bool
		wantState message.State
		wantText  string
	}{
		{1, true, message.StateCompleted, "first"},
		{3, true, message.StateFailed, ""},
		{4, true, "", ""},
		{5, true, message.StateCompleted, "fifth"},
		{6, true, message.StateCompleted, "sixth"},
		{99, false, "", ""},
	}
	for _, tt := range tests {
		r, found := findReply(history, tt.id)
		if found != tt.wantFound {
			t.Errorf("findReply(%d) found = %v, want %v", tt.id, found, tt.wantFound)
			continue
		}
		var state message.State
		var text string
		if r != nil {
			state, text = r.State, r.Content
		}
		if state != tt.wantState || text != tt.wantText {
			t.Errorf("findReply(%d) = (%q, %q), want (%q, %q)", tt.id, state, text, tt.wantState, tt.wantText)
		}
	}
}
