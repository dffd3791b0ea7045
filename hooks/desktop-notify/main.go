// Command desktop-notify is a watchpost hook that shows a desktop notification
// for recognitions and recording sessions. It uses osascript on macOS and
// notify-send elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/ayusman/watchpost/internal/hook"
	"github.com/ayusman/watchpost/internal/notify"
)

// config is the manifest's config block.
type config struct {
	// Sound is the macOS notification sound name; empty is silent.
	Sound string `json:"sound"`
}

func main() {
	var req hook.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}

	var cfg config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeResponse(fmt.Errorf("invalid config: %w", err))
			return
		}
	}

	title, body, ok := message(req.Event)
	if !ok {
		writeResponse(fmt.Errorf("unsupported event type: %s", req.Event.Type))
		return
	}

	writeResponse(show(title, body, cfg.Sound))
}

// message renders e as a notification title and body.
func message(e notify.Event) (string, string, bool) {
	switch e.Type {
	case notify.TypeRecognition:
		return "Watchpost", fmt.Sprintf("%s recognized (%.0f%%)", e.Name, e.Similarity*100), true
	case notify.TypeRecordingStarted:
		return "Watchpost", "Recording started", true
	case notify.TypeRecordingStopped:
		return "Watchpost", fmt.Sprintf("Recording saved: %d frames", e.Frames), true
	default:
		return "", "", false
	}
}

func show(title, body, sound string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(body), strconv.Quote(title))
		if sound != "" {
			script += " sound name " + strconv.Quote(sound)
		}
		cmd = exec.Command("osascript", "-e", script)
	} else {
		cmd = exec.Command("notify-send", title, body)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// writeResponse reports err, or success when err is nil, on stdout.
func writeResponse(err error) {
	resp := hook.Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
