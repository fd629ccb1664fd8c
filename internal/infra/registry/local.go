package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"agentbridge/internal/infra/a2a"
)

// Reserved groups used by the local AIService file layout.
const (
	localToolServerGroup = "tool-servers"
	localAgentCardGroup  = "agent-cards"
)

type listenerKey struct {
	dataID string
	group  string
}

// LocalRegistry is a file-backed ConfigService and AIService. Config keys
// map to files at {root}/{group}/{dataID}; tool server documents live under
// tool-servers/ and agent cards under agent-cards/. The tree is watched
// with fsnotify and writes fan out to registered listeners.
type LocalRegistry struct {
	root    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.Mutex
	listeners map[listenerKey][]Listener
	toolSubs  map[string][]func(*ToolServerDetail)
	cardSubs  map[string][]func(*a2a.AgentCard)
}

// NewLocalRegistry opens a registry rooted at dir, creating it if needed,
// and starts the file watcher.
func NewLocalRegistry(dir string, log *zap.Logger) (*LocalRegistry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	r := &LocalRegistry{
		root:      dir,
		log:       log.Named("local_registry"),
		watcher:   watcher,
		done:      make(chan struct{}),
		listeners: make(map[listenerKey][]Listener),
		toolSubs:  make(map[string][]func(*ToolServerDetail)),
		cardSubs:  make(map[string][]func(*a2a.AgentCard)),
	}
	if err := r.watchTree(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	go r.loop()
	return r, nil
}

// Close stops the watcher.
func (r *LocalRegistry) Close() error {
	close(r.done)
	return r.watcher.Close()
}

func (r *LocalRegistry) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return r.watcher.Add(path)
		}
		return nil
	})
}

func (r *LocalRegistry) loop() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (r *LocalRegistry) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := r.watcher.Add(ev.Name); err != nil {
			r.log.Warn("watch new group dir", zap.String("dir", ev.Name), zap.Error(err))
		}
		return
	}

	rel, err := filepath.Rel(r.root, ev.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return
	}
	group, dataID := parts[0], parts[1]

	payload, err := os.ReadFile(ev.Name)
	if err != nil {
		r.log.Warn("read changed file", zap.String("path", ev.Name), zap.Error(err))
		return
	}

	switch group {
	case localToolServerGroup:
		r.notifyToolServer(strings.TrimSuffix(dataID, ".json"), payload)
	case localAgentCardGroup:
		r.notifyAgentCard(strings.TrimSuffix(dataID, ".json"), payload)
	default:
		r.notifyConfig(dataID, group, payload)
	}
}

func (r *LocalRegistry) notifyConfig(dataID, group string, payload []byte) {
	r.mu.Lock()
	ls := append([]Listener(nil), r.listeners[listenerKey{dataID, group}]...)
	r.mu.Unlock()
	ctx := context.Background()
	for _, l := range ls {
		l.OnChange(ctx, dataID, group, payload)
	}
}

func (r *LocalRegistry) notifyToolServer(name string, payload []byte) {
	var detail ToolServerDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		r.log.Warn("decode tool server detail", zap.String("name", name), zap.Error(err))
		return
	}
	r.mu.Lock()
	subs := append([]func(*ToolServerDetail){}, r.toolSubs[name]...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(&detail)
	}
}

func (r *LocalRegistry) notifyAgentCard(name string, payload []byte) {
	var card a2a.AgentCard
	if err := json.Unmarshal(payload, &card); err != nil {
		r.log.Warn("decode agent card", zap.String("name", name), zap.Error(err))
		return
	}
	r.mu.Lock()
	subs := append([]func(*a2a.AgentCard){}, r.cardSubs[name]...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(&card)
	}
}

func (r *LocalRegistry) configPath(dataID, group string) string {
	return filepath.Join(r.root, group, dataID)
}

// GetConfig reads {root}/{group}/{dataID}. A missing file is an absent key.
func (r *LocalRegistry) GetConfig(_ context.Context, dataID, group string) ([]byte, error) {
	payload, err := os.ReadFile(r.configPath(dataID, group))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// PutConfig writes a config key, creating the group directory on demand.
// Used by tooling and tests to drive pushes.
func (r *LocalRegistry) PutConfig(_ context.Context, dataID, group string, payload []byte) error {
	dir := filepath.Join(r.root, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := r.watcher.Add(dir); err != nil {
		return err
	}
	return os.WriteFile(r.configPath(dataID, group), payload, 0o644)
}

// AddListener registers a push listener for the key.
func (r *LocalRegistry) AddListener(_ context.Context, dataID, group string, l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := listenerKey{dataID, group}
	r.listeners[k] = append(r.listeners[k], l)
	return nil
}

// RemoveListener removes a previously added listener by identity.
func (r *LocalRegistry) RemoveListener(_ context.Context, dataID, group string, l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := listenerKey{dataID, group}
	ls := r.listeners[k]
	for i, cur := range ls {
		if listenerEqual(cur, l) {
			r.listeners[k] = append(ls[:i:i], ls[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetToolServer reads tool-servers/{name}.json. Missing file yields nil.
func (r *LocalRegistry) GetToolServer(_ context.Context, name string) (*ToolServerDetail, error) {
	payload, err := os.ReadFile(filepath.Join(r.root, localToolServerGroup, name+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var detail ToolServerDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		return nil, fmt.Errorf("decode tool server %q: %w", name, err)
	}
	return &detail, nil
}

// SubscribeToolServer invokes fn whenever the tool server document changes.
func (r *LocalRegistry) SubscribeToolServer(_ context.Context, name string, fn func(*ToolServerDetail)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolSubs[name] = append(r.toolSubs[name], fn)
	return nil
}

// GetAgentCard reads agent-cards/{name}.json. The version argument is not
// part of the file layout and is ignored.
func (r *LocalRegistry) GetAgentCard(_ context.Context, name, _ string) (*a2a.AgentCard, error) {
	payload, err := os.ReadFile(filepath.Join(r.root, localAgentCardGroup, name+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var card a2a.AgentCard
	if err := json.Unmarshal(payload, &card); err != nil {
		return nil, fmt.Errorf("decode agent card %q: %w", name, err)
	}
	return &card, nil
}

// SubscribeAgentCard invokes fn whenever the card document changes.
func (r *LocalRegistry) SubscribeAgentCard(_ context.Context, name, _ string, fn func(*a2a.AgentCard)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cardSubs[name] = append(r.cardSubs[name], fn)
	return nil
}

// RegisterAgentEndpoint publishes the card for the registered agent.
func (r *LocalRegistry) RegisterAgentEndpoint(_ context.Context, reg a2a.EndpointRegistration) error {
	if reg.Card == nil {
		return fmt.Errorf("registration for %q carries no card", reg.Name)
	}
	dir := filepath.Join(r.root, localAgentCardGroup)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := r.watcher.Add(dir); err != nil {
		return err
	}
	payload, err := json.Marshal(reg.Card)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, reg.Name+".json"), payload, 0o644)
}

// ReleaseAgentCard removes a published card. Missing card is a no-op.
func (r *LocalRegistry) ReleaseAgentCard(_ context.Context, name, _ string) error {
	err := os.Remove(filepath.Join(r.root, localAgentCardGroup, name+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
