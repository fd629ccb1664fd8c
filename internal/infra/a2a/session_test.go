package a2a

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentbridge/internal/domain"
)

type staticResolver struct {
	mu   sync.Mutex
	card *AgentCard
	err  error
}

func (r *staticResolver) Resolve(context.Context) (*AgentCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.card, nil
}

func (r *staticResolver) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type scriptedSender struct {
	mu      sync.Mutex
	sent    []*Message
	respond func(call int, msg *Message) (*Stream, error)
}

func (f *scriptedSender) Send(_ context.Context, _ *AgentCard, msg *Message) (*Stream, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	call := len(f.sent)
	f.mu.Unlock()
	return f.respond(call, msg)
}

func (f *scriptedSender) outbound(i int) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

func closedStream(err error, events ...StreamEvent) *Stream {
	s := NewStream(len(events) + 1)
	for _, ev := range events {
		s.Push(ev)
	}
	s.Close(err)
	return s
}

func helperResolver() *staticResolver {
	return &staticResolver{card: &AgentCard{Name: "helper", URL: "http://10.0.0.9:8080/a2a"}}
}

func TestSessionTaskIdentifiersStick(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{respond: func(call int, _ *Message) (*Stream, error) {
		switch call {
		case 1:
			return closedStream(nil,
				StreamEvent{Task: &Task{
					Kind:      "task",
					ID:        "t1",
					ContextID: "c1",
					Status:    TaskStatus{State: TaskStateWorking},
				}},
				StreamEvent{Message: &Message{
					Kind:      "message",
					MessageID: "m1",
					Role:      RoleAgent,
					TaskID:    "t1",
					ContextID: "c1",
					Parts:     []Part{{Kind: PartKindText, Text: "working on it"}},
				}},
			), nil
		default:
			return closedStream(nil, StreamEvent{Message: &Message{
				Kind:      "message",
				MessageID: "m2",
				Role:      RoleAgent,
				Parts:     []Part{{Kind: PartKindText, Text: "done"}},
			}}), nil
		}
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "start")})
	require.NoError(t, err)
	require.Equal(t, "working on it", reply.Text())
	require.Equal(t, "helper", s.Name())
	require.Empty(t, sender.outbound(0).TaskID, "first message starts a fresh task")

	_, err = s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "continue")})
	require.NoError(t, err)
	require.Equal(t, "t1", sender.outbound(1).TaskID)
	require.Equal(t, "c1", sender.outbound(1).ContextID)
	require.NotEqual(t, sender.outbound(0).MessageID, sender.outbound(1).MessageID)

	s.Reset()
	_, err = s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "fresh")})
	require.NoError(t, err)
	require.Empty(t, sender.outbound(2).TaskID)
	require.Empty(t, sender.outbound(2).ContextID)
}

func TestSessionCompletedTaskArtifacts(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(nil, StreamEvent{Task: &Task{
			Kind:      "task",
			ID:        "t7",
			ContextID: "c7",
			Status:    TaskStatus{State: TaskStateCompleted},
			Artifacts: []Artifact{{
				ArtifactID: "a1",
				Name:       "answer",
				Parts:      []Part{{Kind: PartKindText, Text: "42"}},
			}},
		}}), nil
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "what is 6*7?")})
	require.NoError(t, err)
	require.False(t, reply.IsError())
	require.Equal(t, "42", reply.Text())
	require.Equal(t, "t7", reply.Metadata[MetaTaskID])
	require.Equal(t, string(TaskStateCompleted), reply.Metadata[MetaTaskState])
	require.Equal(t, []string{"answer"}, reply.Metadata[MetaArtifacts])
}

func TestSessionFailedTaskIsErrorMarked(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(nil, StreamEvent{Task: &Task{
			Kind: "task",
			ID:   "t3",
			Status: TaskStatus{
				State: TaskStateFailed,
				Message: &Message{
					Kind:  "message",
					Role:  RoleAgent,
					Parts: []Part{{Kind: PartKindText, Text: "tool unavailable"}},
				},
			},
		}}), nil
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "go")})
	require.NoError(t, err, "remote failure is a reply, not an error")
	require.True(t, reply.IsError())
	require.Contains(t, reply.Text(), "failed")
	require.Contains(t, reply.Text(), "tool unavailable")
	require.Equal(t, string(TaskStateFailed), reply.Metadata[MetaTaskState])
}

func TestSessionEmptyStream(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(nil), nil
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.NoError(t, err)
	require.True(t, reply.IsError())
	require.Contains(t, reply.Text(), "no response")
}

func TestSessionUnreachableRemote(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.NoError(t, err)
	require.True(t, reply.IsError())
	require.Contains(t, reply.Text(), "failed to reach remote agent")
}

func TestStreamStopUnblocksProducer(t *testing.T) {
	s := NewStream(1)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i := 0; i < 20; i++ {
			if !s.Push(StreamEvent{Update: &TaskStatusUpdate{Kind: "status-update"}}) {
				return
			}
		}
		s.Close(nil)
	}()

	<-s.Events()
	s.Stop()

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Stop")
	}
}

func TestSessionCancelMidStreamReleasesProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producerDone := make(chan struct{})
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		stream := NewStream(1)
		cancel()
		go func() {
			defer close(producerDone)
			for i := 0; i < 20; i++ {
				ev := StreamEvent{Update: &TaskStatusUpdate{
					Kind:   "status-update",
					TaskID: "t1",
					Status: TaskStatus{State: TaskStateWorking},
				}}
				if !stream.Push(ev) {
					return
				}
			}
			stream.Close(nil)
		}()
		return stream, nil
	}}
	s := NewSession(helperResolver(), sender)

	_, err := s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-producerDone:
	case <-time.After(time.Second):
		t.Fatal("producer goroutine leaked after cancellation")
	}
}

func TestSessionCancellationPropagates(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(context.Canceled), nil
	}}
	s := NewSession(helperResolver(), sender)

	_, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionStreamFailureMidway(t *testing.T) {
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(errors.New("connection reset"),
			StreamEvent{Update: &TaskStatusUpdate{
				Kind:   "status-update",
				TaskID: "t5",
				Status: TaskStatus{State: TaskStateWorking},
			}},
		), nil
	}}
	s := NewSession(helperResolver(), sender)

	reply, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.NoError(t, err)
	require.True(t, reply.IsError())
	require.Contains(t, reply.Text(), "remote stream failed")
}

func TestSessionObservedMessagesRideAlong(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(nil, StreamEvent{Message: &Message{
			Kind:  "message",
			Role:  RoleAgent,
			Parts: []Part{{Kind: PartKindText, Text: "ok"}},
		}}), nil
	}}
	s := NewSession(helperResolver(), sender)

	require.NoError(t, s.Observe(ctx, []domain.Msg{domain.TextMsg("system", domain.RoleSystem, "background note")}))
	_, err := s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "question")})
	require.NoError(t, err)

	out := sender.outbound(0)
	require.Len(t, out.Parts, 2, "queued messages ride with the next send")
	require.Equal(t, "background note", out.Parts[0].Text)
	require.Equal(t, "question", out.Parts[1].Text)

	// The queue drains on send.
	_, err = s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "another")})
	require.NoError(t, err)
	require.Len(t, sender.outbound(1).Parts, 1)
}

func TestSessionUsesLastKnownCardOnResolveFailure(t *testing.T) {
	ctx := context.Background()
	resolver := helperResolver()
	sender := &scriptedSender{respond: func(int, *Message) (*Stream, error) {
		return closedStream(nil, StreamEvent{Message: &Message{
			Kind:  "message",
			Role:  RoleAgent,
			Parts: []Part{{Kind: PartKindText, Text: "ok"}},
		}}), nil
	}}
	s := NewSession(resolver, sender)

	_, err := s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "first")})
	require.NoError(t, err)

	resolver.fail(errors.New("registry unreachable"))
	reply, err := s.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "second")})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text())
}

func TestSessionInitFailure(t *testing.T) {
	resolver := &staticResolver{err: ErrCardNotFound}
	s := NewSession(resolver, &scriptedSender{})

	_, err := s.Send(context.Background(), []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hello")})
	require.ErrorIs(t, err, ErrCardNotFound)
	require.Empty(t, s.Name())
}
