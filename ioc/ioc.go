// Package ioc defines the indicator-of-compromise events produced by the
// emulated host environment and the append-only recorder that collects them.
package ioc

import (
	"time"

	"github.com/google/uuid"
)

// Categories emitted by the emulated host objects.
const (
	CategoryNetworkRequest  = "network request"
	CategoryURLContacted    = "url contacted"
	CategoryNetworkSend     = "network send"
	CategoryRequestHeader   = "request header"
	CategoryFileWrite       = "file write"
	CategoryFileRead        = "file read"
	CategoryFileDelete      = "file delete"
	CategoryFileCopy        = "file copy"
	CategoryFolderCreate    = "folder create"
	CategoryCommandRun      = "command run"
	CategoryRegistryRead    = "registry read"
	CategoryRegistryWrite   = "registry write"
	CategoryRegistryDelete  = "registry delete"
	CategoryShortcut        = "shortcut"
	CategoryScheduledTask   = "scheduled task"
	CategoryWMIQuery        = "wmi query"
	CategoryProcessCreate   = "process create"
	CategoryInstaller       = "installer"
	CategoryDatabase        = "database"
	CategoryScriptControl   = "script control"
	CategoryDOMWrite        = "dom write"
	CategoryDOMAppend       = "dom append"
	CategoryRemoteScript    = "remote script"
	CategoryWindowLocation  = "window location"
	CategorySleep           = "sleep"
	CategoryQuit            = "quit"
	CategoryGeneratedSource = "generated source"
	CategoryEnvironment     = "environment"
	CategoryObjectCreate    = "object create"
)

// Event is a single observed action. Events are never modified once recorded.
type Event struct {
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Category    string                 `json:"category"`
	Payload     map[string]interface{} `json:"payload"`
	Description string                 `json:"description"`
}

// NewEvent builds an event stamped with a fresh id and the current time.
// The payload is copied deeply, nested maps and slices included.
func NewEvent(category string, payload map[string]interface{}, description string) Event {
	return Event{
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Category:    category,
		Payload:     copyPayload(payload),
		Description: description,
	}
}

func copyPayload(payload map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyPayload(t)
	case map[string]string:
		cp := make(map[string]string, len(t))
		for k, s := range t {
			cp[k] = s
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	case []map[string]interface{}:
		cp := make([]map[string]interface{}, len(t))
		for i, m := range t {
			cp[i] = copyPayload(m)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// Resource is a file the script tried to drop.
type Resource struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Data     []byte `json:"-"`
}

// Snippet is dynamically generated code captured for review.
type Snippet struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Origin string    `json:"origin"`
}

// Recorder is the sink used by the emulated host objects.
type Recorder interface {
	// Record appends an event.
	Record(category string, payload map[string]interface{}, description string)
	// RecordURL registers a contacted URL and emits a "url contacted" event.
	RecordURL(source, url string)
	// RecordGeneratedSource captures dynamically generated code.
	RecordGeneratedSource(origin, text string)
	// RecordFile captures the content of a dropped file.
	RecordFile(path string, data []byte) Resource
}
