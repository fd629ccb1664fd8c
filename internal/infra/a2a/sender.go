package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JSON-RPC methods of the protocol.
const (
	methodMessageSend   = "message/send"
	methodMessageStream = "message/stream"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// HTTPSender speaks the JSON-RPC transport: message/stream over SSE when
// the card advertises streaming, message/send with a single response
// otherwise.
type HTTPSender struct {
	client *http.Client
	log    *zap.Logger
}

// NewHTTPSender returns a sender using the given client, defaulting to
// http.DefaultClient.
func NewHTTPSender(client *http.Client, log *zap.Logger) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSender{client: client, log: log.Named("a2a_sender")}
}

func (h *HTTPSender) Send(ctx context.Context, card *AgentCard, msg *Message) (*Stream, error) {
	method := methodMessageSend
	if card.Capabilities.Streaming {
		method = methodMessageStream
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  map[string]any{"message": msg},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, card.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if method == methodMessageStream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("remote agent returned status %s", resp.Status)
	}

	if method == methodMessageStream && strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		stream := NewStream(8)
		go h.readSSE(resp.Body, stream)
		return stream, nil
	}
	defer resp.Body.Close()
	return h.readSingle(resp.Body)
}

func (h *HTTPSender) readSingle(body io.Reader) (*Stream, error) {
	var rpc rpcResponse
	if err := json.NewDecoder(body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("remote agent error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	ev, err := decodeEvent(rpc.Result)
	if err != nil {
		return nil, err
	}
	stream := NewStream(1)
	stream.Push(ev)
	stream.Close(nil)
	return stream, nil
}

// readSSE forwards data events until the body ends. The terminal error on
// the stream reflects why reading stopped.
func (h *HTTPSender) readSSE(body io.ReadCloser, stream *Stream) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var rpc rpcResponse
		if err := json.Unmarshal([]byte(payload), &rpc); err != nil {
			h.log.Warn("skipping undecodable stream frame", zap.Error(err))
			continue
		}
		if rpc.Error != nil {
			stream.Close(fmt.Errorf("remote agent error %d: %s", rpc.Error.Code, rpc.Error.Message))
			return
		}
		ev, err := decodeEvent(rpc.Result)
		if err != nil {
			h.log.Warn("skipping unrecognized stream event", zap.Error(err))
			continue
		}
		if !stream.Push(ev) {
			return
		}
	}
	stream.Close(scanner.Err())
}

// decodeEvent dispatches a result object on its kind discriminator.
func decodeEvent(raw json.RawMessage) (StreamEvent, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return StreamEvent{}, fmt.Errorf("decode event: %w", err)
	}
	switch probe.Kind {
	case "message":
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return StreamEvent{}, err
		}
		return StreamEvent{Message: &msg}, nil
	case "task":
		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return StreamEvent{}, err
		}
		return StreamEvent{Task: &task}, nil
	case "status-update":
		var update TaskStatusUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			return StreamEvent{}, err
		}
		return StreamEvent{Update: &update}, nil
	}
	return StreamEvent{}, fmt.Errorf("unknown event kind %q", probe.Kind)
}
