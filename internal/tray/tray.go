// Package tray provides a system tray menu for a running watchpost node.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/recorder"
)

// Tray represents the system tray application. It listens to recognitions and
// recording sessions so the menu mirrors the pipeline.
type Tray struct {
	onToggle    func(streaming bool)
	onDashboard func()
	onQuit      func()
	streaming   bool
	recording   bool
	last        string
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle    *systray.MenuItem
	menuRecording *systray.MenuItem
	menuLast      *systray.MenuItem
}

// New creates a new Tray reflecting the initial streaming state.
func New(streaming bool) *Tray {
	return &Tray{
		streaming: streaming,
	}
}

// OnToggle sets the callback invoked when streaming is toggled from the menu.
func (t *Tray) OnToggle(fn func(streaming bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback for the dashboard menu item.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Watchpost")
	systray.SetTooltip("Watchpost face recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(streamTitle(t.streaming), "Toggle live streaming")
	systray.AddSeparator()
	t.menuRecording = systray.AddMenuItem(recordingTitle(t.recording), "Recorder state")
	t.menuRecording.Disable()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Last recognized face")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Watchpost")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func streamTitle(on bool) string {
	if on {
		return "● Streaming"
	}
	return "○ Streaming off"
}

func recordingTitle(on bool) string {
	if on {
		return "Recording"
	}
	return "Idle"
}

func lastTitle(name string) string {
	if name == "" {
		return "Last: none"
	}
	return "Last: " + name
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.streaming = !t.streaming
	streaming := t.streaming
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(streamTitle(streaming))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(streaming)
	}
}

func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStreaming syncs the menu with a streaming change made elsewhere, such as the HTTP API.
func (t *Tray) SetStreaming(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaming = on
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(streamTitle(on))
	}
}

// Streaming returns the streaming state shown in the menu.
func (t *Tray) Streaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaming
}

// Recognized updates the last recognized name.
func (t *Tray) Recognized(r face.Recognition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = fmt.Sprintf("%s (%.2f)", r.Name, r.Similarity)
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(t.last))
	}
}

// Last returns the last recognized label, or "" before any recognition.
func (t *Tray) Last() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func (t *Tray) RecordingStarted(recorder.Session) { t.setRecording(true) }
func (t *Tray) RecordingStopped(recorder.Session) { t.setRecording(false) }

func (t *Tray) setRecording(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = on
	if t.menuRecording != nil {
		t.menuRecording.SetTitle(recordingTitle(on))
	}
}

// Recording reports whether a recording session is open.
func (t *Tray) Recording() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recording
}
