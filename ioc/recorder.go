package ioc

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Listener is notified after every recorded event.
type Listener func(Event)

// MemoryRecorder keeps every observation of a run in memory. It is safe for
// concurrent use; the watchdog may read snapshots while the script runs.
type MemoryRecorder struct {
	mu        sync.RWMutex
	events    []Event
	urls      []string
	seenURLs  map[string]struct{}
	resources []Resource
	snippets  []Snippet
	listeners []Listener
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{seenURLs: make(map[string]struct{})}
}

// OnEvent registers a listener called synchronously for each event.
func (r *MemoryRecorder) OnEvent(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Record appends an event.
func (r *MemoryRecorder) Record(category string, payload map[string]interface{}, description string) {
	r.append(NewEvent(category, payload, description))
}

func (r *MemoryRecorder) append(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

// RecordURL stores the url once and emits a "url contacted" event for every call.
func (r *MemoryRecorder) RecordURL(source, url string) {
	r.mu.Lock()
	if _, ok := r.seenURLs[url]; !ok {
		r.seenURLs[url] = struct{}{}
		r.urls = append(r.urls, url)
	}
	r.mu.Unlock()

	r.append(NewEvent(CategoryURLContacted, map[string]interface{}{
		"url":    url,
		"source": source,
	}, source+" contacted "+url))
}

// RecordGeneratedSource captures text produced and executed at runtime.
func (r *MemoryRecorder) RecordGeneratedSource(origin, text string) {
	s := Snippet{
		ID:     uuid.NewString(),
		Time:   time.Now().UTC(),
		Source: text,
		Origin: origin,
	}
	r.mu.Lock()
	r.snippets = append(r.snippets, s)
	r.mu.Unlock()

	r.append(NewEvent(CategoryGeneratedSource, map[string]interface{}{
		"snippet": s.ID,
		"origin":  origin,
		"length":  len(text),
	}, "code generated by "+origin))
}

// RecordFile stores a copy of a dropped file.
func (r *MemoryRecorder) RecordFile(path string, data []byte) Resource {
	sum := sha256.Sum256(data)
	res := Resource{
		ID:       uuid.NewString(),
		Path:     path,
		SHA256:   hex.EncodeToString(sum[:]),
		MIMEType: mimetype.Detect(data).String(),
		Size:     len(data),
		Data:     append([]byte(nil), data...),
	}
	r.mu.Lock()
	r.resources = append(r.resources, res)
	r.mu.Unlock()
	return res
}

// Events returns a copy of the recorded events in order.
func (r *MemoryRecorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// EventsByCategory returns the events of one category.
func (r *MemoryRecorder) EventsByCategory(category string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// URLs returns the distinct contacted urls in first-seen order.
func (r *MemoryRecorder) URLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.urls...)
}

// Resources returns the dropped files.
func (r *MemoryRecorder) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Resource(nil), r.resources...)
}

// Snippets returns the captured generated code.
func (r *MemoryRecorder) Snippets() []Snippet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Snippet(nil), r.snippets...)
}
