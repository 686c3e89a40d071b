// Package processor turns a Pending user message into a model reply.
//
// A job runs through a fixed sequence: claim the message, load the
// session context, call the model, record the outcome, name the session
// if it still has the placeholder title, and notify the client. Any error
// or panic along the way leaves the message Failed and sends the client an
// error frame.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/events"
	"github.com/guilhermegouw/relay/internal/llm"
	"github.com/guilhermegouw/relay/internal/message"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/session"
	"github.com/guilhermegouw/relay/internal/store"
)

// Job identifies one Pending message to process.
type Job struct {
	MessageID int64         `json:"message_id"`
	SessionID string        `json:"session_id"`
	Mode      delivery.Mode `json:"mode"`
}

// Outcome is how a job ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result reports what Process did. Err is set when Outcome is Failed.
type Result struct {
	Outcome Outcome
	Reply   string
	Title   string
	Err     error
}

// Notifier delivers a frame using the job's delivery mode.
type Notifier interface {
	Notify(ctx context.Context, mode delivery.Mode, sessionID string, n delivery.Notification) error
}

// Processor runs jobs. It is safe for concurrent use; callers serialize
// jobs of the same session.
type Processor struct {
	store    *store.Gateway
	model    llm.Client
	notifier Notifier
	hub      *pubsub.Hub
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a processor. hub may be nil.
func New(gw *store.Gateway, model llm.Client, notifier Notifier, hub *pubsub.Hub, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    gw,
		model:    model,
		notifier: notifier,
		hub:      hub,
		tracer:   otel.Tracer("github.com/guilhermegouw/relay/internal/processor"),
		logger:   logger.With("component", "processor"),
	}
}

// Process runs job to a terminal state.
func (p *Processor) Process(ctx context.Context, job Job) (res Result) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "processor.process", trace.WithAttributes(
		attribute.Int64("message.id", job.MessageID),
		attribute.String("session.id", job.SessionID),
		attribute.String("delivery.mode", string(job.Mode)),
	))
	defer span.End()

	logger := p.logger.With("message_id", job.MessageID, "session_id", job.SessionID)
	var model string

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing", "panic", r, "stack", string(debug.Stack()))
			res = p.fail(ctx, job, model, started, fmt.Errorf("internal error: %v", r))
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	// Claim: only a message that is still Pending is worked on.
	msg, err := p.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		if store.IsNotFound(err) {
			return p.skip(job, "message not found")
		}
		return p.fail(ctx, job, model, started, err)
	}
	if msg.State != message.StatePending {
		return p.skip(job, "message is "+string(msg.State))
	}
	if job.SessionID != msg.SessionID {
		if job.SessionID != "" {
			logger.Warn("job session does not match message, using stored session", "stored_session_id", msg.SessionID)
		}
		job.SessionID = msg.SessionID
	}

	sess, history, err := p.loadContext(ctx, job.SessionID)
	if err != nil {
		return p.fail(ctx, job, model, started, fmt.Errorf("loading session context: %w", err))
	}
	model = sess.Model

	reply, err := p.model.Complete(ctx, conversation(history, msg.ID), model)
	if err != nil {
		return p.fail(ctx, job, model, started, err)
	}

	if _, err := p.store.CompleteMessage(ctx, msg.ID, job.SessionID, reply); err != nil {
		if store.IsConflict(err) {
			return p.skip(job, "message finished elsewhere")
		}
		return p.fail(ctx, job, model, started, err)
	}
	p.publish(pubsub.EventCompleted, events.NewMessageCompletedEvent(msg.ID, job.SessionID, model, time.Since(started)))

	title := p.nameSession(ctx, sess, reply, logger)

	if err := p.notifier.Notify(ctx, job.Mode, job.SessionID, delivery.Reply(reply, title)); err != nil {
		logger.Debug("reply not delivered", "error", err)
	}

	logger.Info("message completed", "model", model, "took", time.Since(started))
	return Result{Outcome: OutcomeCompleted, Reply: reply, Title: title}
}

func (p *Processor) loadContext(ctx context.Context, sessionID string) (*session.Session, []*message.Message, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := p.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, history, nil
}

// nameSession replaces the placeholder title once. A failed suggestion
// leaves the title as it was.
func (p *Processor) nameSession(ctx context.Context, sess *session.Session, reply string, logger *slog.Logger) string {
	if !sess.HasPlaceholderTitle() {
		return sess.Title
	}
	title, err := p.model.SuggestTitle(ctx, reply)
	if err != nil {
		logger.Warn("title suggestion failed", "error", err)
		return sess.Title
	}
	if title == "" {
		return sess.Title
	}
	if err := p.store.RenameSession(ctx, sess.ID, title); err != nil {
		logger.Warn("renaming session failed", "error", err)
		return sess.Title
	}
	return title
}

// fail marks the message Failed and tells the client. A message that
// already reached a terminal state is left alone.
func (p *Processor) fail(ctx context.Context, job Job, model string, started time.Time, cause error) Result {
	logger := p.logger.With("message_id", job.MessageID, "session_id", job.SessionID)
	logger.Error("message failed", "error", cause)

	if err := p.store.SetMessageState(ctx, job.MessageID, message.StateFailed); err != nil && !store.IsConflict(err) {
		logger.Error("marking message failed", "error", err)
	}
	p.publish(pubsub.EventFailed, events.NewMessageFailedEvent(job.MessageID, job.SessionID, model, time.Since(started), cause))

	if job.SessionID != "" {
		if err := p.notifier.Notify(ctx, job.Mode, job.SessionID, delivery.Failure(failureText(cause))); err != nil {
			logger.Debug("error not delivered", "error", err)
		}
	}
	return Result{Outcome: OutcomeFailed, Err: cause}
}

func (p *Processor) skip(job Job, reason string) Result {
	p.logger.Debug("skipping job", "message_id", job.MessageID, "reason", reason)
	p.publish(pubsub.EventUpdated, events.NewMessageSkippedEvent(job.MessageID, job.SessionID))
	return Result{Outcome: OutcomeSkipped}
}

func (p *Processor) publish(t pubsub.EventType, ev events.MessageEvent) {
	if p.hub != nil {
		p.hub.Message.Publish(t, ev)
	}
}

// conversation builds the model input from history up to and including
// the message with id target.
func conversation(history []*message.Message, target int64) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, llm.Turn{Role: llm.NormalizeRole(string(m.Role)), Content: m.Content})
		if m.ID == target {
			break
		}
	}
	return turns
}

func failureText(err error) string {
	if llm.IsMalformed(err) {
		return "The model returned an empty response."
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return "The model request failed: " + apiErr.Err.Error()
	}
	return err.Error()
}
