package a2a

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/syncx"
)

// Stream is a channel-backed sequence of protocol events. The producer
// pushes events and closes the stream with a terminal error (nil on clean
// end); the consumer ranges over Events and then checks Err. A consumer
// that stops early calls Stop so the producer does not block on a full
// buffer forever.
type Stream struct {
	ch   chan StreamEvent
	done chan struct{}
	stop sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a stream with the given buffer size.
func NewStream(buf int) *Stream {
	return &Stream{
		ch:   make(chan StreamEvent, buf),
		done: make(chan struct{}),
	}
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan StreamEvent { return s.ch }

// Push delivers one event. It returns false once the consumer has stopped
// reading; the producer must not push again after that.
func (s *Stream) Push(ev StreamEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Stop marks the consumer as gone. Pending and later pushes return false
// instead of blocking.
func (s *Stream) Stop() {
	s.stop.Do(func() { close(s.done) })
}

// Close ends the stream with the given terminal error.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Err returns the terminal error, valid after Events is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Sender delivers one message to the remote agent and returns its response
// stream.
type Sender interface {
	Send(ctx context.Context, card *AgentCard, msg *Message) (*Stream, error)
}

// Session is a sticky conversation with one remote agent: the task and
// context identifiers returned by the remote side are attached to every
// following message until Reset.
type Session struct {
	resolver CardResolver
	sender   Sender
	guard    *syncx.InitGuard
	metrics  domain.Metrics
	log      *zap.Logger

	mu        sync.Mutex
	card      *AgentCard
	name      string
	taskID    string
	contextID string
	pending   []domain.Msg
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m domain.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession builds a session that resolves the peer through resolver and
// talks through sender.
func NewSession(resolver CardResolver, sender Sender, opts ...SessionOption) *Session {
	s := &Session{
		resolver: resolver,
		sender:   sender,
		guard:    syncx.NewInitGuard(),
		metrics:  domain.NopMetrics{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("remote_session")
	return s
}

// Name returns the remote agent's name, empty before the first resolve.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Observe queues messages to be delivered with the next Send.
func (s *Session) Observe(_ context.Context, msgs []domain.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msgs...)
	return nil
}

// Reset clears the task and context identifiers and any queued messages.
// The next Send starts a fresh remote task.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskID = ""
	s.contextID = ""
	s.pending = nil
}

func (s *Session) init(ctx context.Context) error {
	card, err := s.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve remote agent: %w", err)
	}
	if err := ValidateCard(card); err != nil {
		return err
	}
	s.mu.Lock()
	s.card = card
	s.name = card.Name
	s.mu.Unlock()
	s.log.Info("remote agent resolved", zap.String("name", card.Name), zap.String("url", card.URL))
	return nil
}

// currentCard re-resolves the card, falling back to the last known good
// card when re-resolution fails.
func (s *Session) currentCard(ctx context.Context) (*AgentCard, error) {
	card, err := s.resolver.Resolve(ctx)
	if err == nil {
		if verr := ValidateCard(card); verr == nil {
			s.mu.Lock()
			s.card = card
			s.name = card.Name
			s.mu.Unlock()
			return card, nil
		}
		err = ValidateCard(card)
	}
	s.mu.Lock()
	cached := s.card
	s.mu.Unlock()
	if cached != nil {
		s.log.Warn("card re-resolution failed, using last known card", zap.Error(err))
		return cached, nil
	}
	return nil, err
}

// Send delivers queued messages plus msgs as one protocol message and
// reduces the response stream to a single reply. Remote failures come back
// as error-marked messages; only cancellation of ctx surfaces as an error.
func (s *Session) Send(ctx context.Context, msgs []domain.Msg) (domain.Msg, error) {
	if err := s.guard.Ensure(ctx, s.init); err != nil {
		return domain.Msg{}, err
	}
	card, err := s.currentCard(ctx)
	if err != nil {
		return domain.Msg{}, err
	}

	out := s.buildOutbound(msgs)
	start := time.Now()
	stream, err := s.sender.Send(ctx, card, out)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Msg{}, ctx.Err()
		}
		s.metrics.ObserveRemoteSend(false, time.Since(start))
		return s.errorMsg(fmt.Sprintf("failed to reach remote agent: %v", err)), nil
	}

	reply, err := s.consume(ctx, stream)
	s.metrics.ObserveRemoteSend(err == nil && !reply.IsError(), time.Since(start))
	if err != nil {
		return domain.Msg{}, err
	}
	return reply, nil
}

// buildOutbound merges the pending queue and the new input into a single
// message carrying the sticky identifiers.
func (s *Session) buildOutbound(msgs []domain.Msg) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append(s.pending, msgs...)
	s.pending = nil

	var blocks []domain.ContentBlock
	metadata := map[string]any{}
	for _, msg := range all {
		blocks = append(blocks, msg.Blocks...)
		for k, v := range msg.Metadata {
			metadata[k] = v
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return &Message{
		Kind:      "message",
		MessageID: uuid.NewString(),
		Role:      RoleUser,
		Parts:     BlocksToParts(blocks),
		TaskID:    s.taskID,
		ContextID: s.contextID,
		Metadata:  metadata,
	}
}

// consume reduces the event stream to the final reply. The last message
// constructed wins; an empty stream yields an error-marked reply.
func (s *Session) consume(ctx context.Context, stream *Stream) (domain.Msg, error) {
	defer stream.Stop()
	var last *domain.Msg

	for ev := range stream.Events() {
		if ctx.Err() != nil {
			return domain.Msg{}, ctx.Err()
		}
		switch {
		case ev.Message != nil:
			s.updateIDs(ev.Message.TaskID, ev.Message.ContextID)
			msg := FromMessage(s.Name(), ev.Message)
			last = &msg
		case ev.Task != nil:
			msg := s.taskMsg(ev.Task)
			last = &msg
		case ev.Update != nil:
			s.updateIDs(ev.Update.TaskID, ev.Update.ContextID)
			msg := s.statusMsg(ev.Update.TaskID, ev.Update.Status)
			last = &msg
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return domain.Msg{}, ctx.Err()
			}
			return domain.Msg{}, err
		}
		return s.errorMsg(fmt.Sprintf("remote stream failed: %v", err)), nil
	}
	if last == nil {
		return s.errorMsg(fmt.Sprintf("%v from remote agent %q", domain.ErrNoResponse, s.Name())), nil
	}
	return *last, nil
}

// taskMsg renders a task event. Identifiers stick from every task seen.
func (s *Session) taskMsg(task *Task) domain.Msg {
	s.updateIDs(task.ID, task.ContextID)

	state := task.Status.State
	switch {
	case state == TaskStateCompleted && len(task.Artifacts) > 0:
		return s.artifactMsg(task)
	case state == TaskStateCompleted && task.Status.Message != nil:
		return FromMessage(s.Name(), task.Status.Message)
	case state == TaskStateFailed, state == TaskStateCanceled, state == TaskStateRejected:
		msg := s.errorMsg(fmt.Sprintf("task %s ended in state %s%s", task.ID, state, statusText(task.Status)))
		msg.SetMeta(MetaTaskState, string(state))
		return msg
	default:
		return s.statusMsg(task.ID, task.Status)
	}
}

func (s *Session) statusMsg(taskID string, status TaskStatus) domain.Msg {
	text := fmt.Sprintf("Task %s status: %s%s", taskID, status.State, statusText(status))
	msg := domain.TextMsg(s.Name(), domain.RoleAssistant, text)
	msg.SetMeta(MetaTaskID, taskID)
	msg.SetMeta(MetaTaskState, string(status.State))
	return msg
}

func statusText(status TaskStatus) string {
	if status.Message == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range status.Message.Parts {
		if part.Kind == PartKindText {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return ": " + b.String()
}

// artifactMsg flattens a completed task's artifacts into one reply.
func (s *Session) artifactMsg(task *Task) domain.Msg {
	msg := domain.Msg{Name: s.Name(), Role: domain.RoleAssistant}
	names := make([]string, 0, len(task.Artifacts))
	for _, artifact := range task.Artifacts {
		names = append(names, artifact.Name)
		msg.Blocks = append(msg.Blocks, PartsToBlocks(artifact.Parts)...)
	}
	msg.SetMeta(MetaTaskID, task.ID)
	if task.ContextID != "" {
		msg.SetMeta(MetaContextID, task.ContextID)
	}
	msg.SetMeta(MetaTaskState, string(task.Status.State))
	msg.SetMeta(MetaArtifacts, names)
	return msg
}

func (s *Session) updateIDs(taskID, contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if taskID != "" {
		s.taskID = taskID
	}
	if contextID != "" {
		s.contextID = contextID
	}
}

func (s *Session) errorMsg(text string) domain.Msg {
	msg := domain.TextMsg(s.Name(), domain.RoleAssistant, text)
	msg.SetMeta(domain.MetaError, true)
	msg.SetMeta(domain.MetaErrorMessage, text)
	return msg
}
