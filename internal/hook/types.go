// Package hook runs external programs in response to watchpost events.
//
// A hook is a directory holding a hook.json manifest and an executable. For each
// event type the hook subscribes to, the executable is started with a Request as
// JSON on stdin and must print a Response as JSON on stdout.
package hook

import (
	"encoding/json"

	"github.com/ayusman/watchpost/internal/notify"
)

// Manifest describes a hook and the events it handles.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	// Events lists notify event types; empty subscribes to all of them.
	Events []string        `json:"events"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Handles reports whether the hook subscribes to eventType.
func (m Manifest) Handles(eventType string) bool {
	if len(m.Events) == 0 {
		return true
	}
	for _, e := range m.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Request is written to the hook's stdin.
type Request struct {
	Event  notify.Event    `json:"event"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}
