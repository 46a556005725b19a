// Package hijacker watches a TODO inbox directory and turns new TODO
// items into delegations. Parse failures are logged and skipped; the
// watcher never crashes on bad input.
package hijacker

import (
	"bytes"
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mpm/internal/delegation"
	"mpm/pkg/logger"
)

const (
	// modifyDebounce skips re-parsing a path touched within the window.
	modifyDebounce = time.Second
	// createDelay lets the writer finish before the first parse.
	createDelay = 100 * time.Millisecond
	// maxProcessedIDs caps the processed set; oldest entries age out.
	maxProcessedIDs = 100_000
	// defaultRescanInterval is the fallback cadence for catching events
	// the watcher missed.
	defaultRescanInterval = 30 * time.Second
)

// OnDelegation is fired for every newly produced delegation.
type OnDelegation func(delegation.Delegation)

// Hijacker converts filesystem TODO items into delegations.
type Hijacker struct {
	inbox       string
	rescanEvery time.Duration
	transformer *delegation.Transformer
	onDelegate  OnDelegation
	log         zerolog.Logger

	mu           sync.Mutex
	watcher      *fsnotify.Watcher
	cron         *cron.Cron
	running      bool
	lastSeen     map[string]time.Time // path -> last processed
	processed    map[string]*list.Element
	processedLRU *list.List // front = oldest
	pending      []delegation.Delegation
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New creates a hijacker over the given inbox directory. A rescan runs
// every rescanEvery to catch events the watcher missed; zero means the
// 30 second default.
func New(inbox string, rescanEvery time.Duration, onDelegate OnDelegation) *Hijacker {
	if rescanEvery <= 0 {
		rescanEvery = defaultRescanInterval
	}
	return &Hijacker{
		inbox:        inbox,
		rescanEvery:  rescanEvery,
		transformer:  delegation.NewTransformer(),
		onDelegate:   onDelegate,
		log:          logger.ForComponent("hijacker"),
		lastSeen:     make(map[string]time.Time),
		processed:    make(map[string]*list.Element),
		processedLRU: list.New(),
	}
}

// StartMonitoring scans existing inbox files once, then subscribes to
// create and modify events. Calling it while running is a no-op.
func (h *Hijacker) StartMonitoring() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(h.inbox, 0o755); err != nil {
		h.mu.Unlock()
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if err := w.Add(h.inbox); err != nil {
		w.Close()
		h.mu.Unlock()
		return err
	}

	h.watcher = w
	h.stopCh = make(chan struct{})
	h.running = true

	c := cron.New()
	c.AddFunc(fmt.Sprintf("@every %s", h.rescanEvery), h.rescan)
	c.Start()
	h.cron = c
	h.mu.Unlock()

	h.rescan()

	h.wg.Add(1)
	go h.loop(w, h.stopCh)

	h.log.Info().Str("inbox", h.inbox).Msg("todo monitoring started")
	return nil
}

// StopMonitoring unsubscribes and joins the watcher. Idempotent.
func (h *Hijacker) StopMonitoring() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	h.watcher.Close()
	h.cron.Stop()
	h.mu.Unlock()

	h.wg.Wait()
	h.log.Info().Msg("todo monitoring stopped")
}

func (h *Hijacker) loop(w *fsnotify.Watcher, stop chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isTodoFile(event.Name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				// Let the writer finish before the first parse.
				time.AfterFunc(createDelay, func() { h.processFile(event.Name) })
			case event.Op&fsnotify.Write != 0:
				h.processFile(event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.log.Error().Err(err).Msg("watcher error")

		case <-stop:
			return
		}
	}
}

// isTodoFile accepts only .json files whose path mentions todos.
func isTodoFile(path string) bool {
	return strings.HasSuffix(path, ".json") && strings.Contains(strings.ToLower(path), "todos")
}

// rescan walks the inbox and processes every eligible file.
func (h *Hijacker) rescan() {
	entries, err := os.ReadDir(h.inbox)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(h.inbox, e.Name())
		if isTodoFile(path) {
			h.processFile(path)
		}
	}
}

func (h *Hijacker) processFile(path string) {
	h.mu.Lock()
	if last, ok := h.lastSeen[path]; ok && time.Since(last) < modifyDebounce {
		h.mu.Unlock()
		return
	}
	h.lastSeen[path] = time.Now()
	h.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		h.log.Debug().Err(err).Str("file", path).Msg("todo file unreadable, skipping")
		return
	}

	items, err := parseTodoFile(data)
	if err != nil {
		h.log.Warn().Err(err).Str("file", path).Msg("todo file unparseable, skipping")
		return
	}

	for i := range items {
		h.processItem(&items[i])
	}
}

// parseTodoFile accepts a single object, an object wrapping a todos or
// items list, or a bare list.
func parseTodoFile(data []byte) ([]delegation.TodoItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty todo file")
	}

	if trimmed[0] == '[' {
		var many []delegation.TodoItem
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, err
		}
		return many, nil
	}

	var wrapper struct {
		Todos []delegation.TodoItem `json:"todos"`
		Items []delegation.TodoItem `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Todos != nil {
		return wrapper.Todos, nil
	}
	if wrapper.Items != nil {
		return wrapper.Items, nil
	}

	var one delegation.TodoItem
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []delegation.TodoItem{one}, nil
}

func (h *Hijacker) processItem(item *delegation.TodoItem) {
	id := item.EffectiveID()

	h.mu.Lock()
	if _, seen := h.processed[id]; seen {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	d := h.transformer.Transform(item)
	if d == nil {
		return
	}

	h.mu.Lock()
	// Re-check under the lock: a rescan may have raced us.
	if _, seen := h.processed[id]; seen {
		h.mu.Unlock()
		return
	}
	h.markProcessedLocked(id)
	h.pending = append(h.pending, *d)
	cb := h.onDelegate
	h.mu.Unlock()

	h.log.Info().
		Str("agent", d.Agent).
		Str("todo_id", d.TodoID).
		Float64("confidence", d.Confidence).
		Msg("todo hijacked into delegation")

	if cb != nil {
		cb(*d)
	}
}

func (h *Hijacker) markProcessedLocked(id string) {
	h.processed[id] = h.processedLRU.PushBack(id)
	for h.processedLRU.Len() > maxProcessedIDs {
		oldest := h.processedLRU.Front()
		h.processedLRU.Remove(oldest)
		delete(h.processed, oldest.Value.(string))
	}
}

// GetPendingDelegations re-scans the inbox and drains the pending set.
func (h *Hijacker) GetPendingDelegations() []delegation.Delegation {
	h.rescan()

	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// MarkDelegationCompleted records a delegation's TODO as processed so a
// later rescan does not replay it.
func (h *Hijacker) MarkDelegationCompleted(d delegation.Delegation) {
	if d.TodoID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.processed[d.TodoID]; !seen {
		h.markProcessedLocked(d.TodoID)
	}
}

// Running reports whether monitoring is active.
func (h *Hijacker) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}
