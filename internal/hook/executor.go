package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/notify"
)

// DefaultTimeout bounds a single hook run.
const DefaultTimeout = 5 * time.Second

// ErrHookFailed is returned when a hook reports success=false.
var ErrHookFailed = errors.New("hook reported failure")

// Executor runs hooks with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates a new Executor. A non-positive timeout selects DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Execute runs h with req on stdin and parses its stdout as a Response.
func (e *Executor) Execute(ctx context.Context, h *Hook, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Executable)
	cmd.Dir = h.Path

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("hook %s timed out after %v", h.Manifest.Name, e.timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("hook %s failed: %w, stderr: %s", h.Manifest.Name, err, s)
		}
		return nil, fmt.Errorf("hook %s failed: %w", h.Manifest.Name, err)
	}

	var response Response
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse hook response: %w, stdout: %s", err, stdout.String())
	}
	return &response, nil
}

// Publisher delivers notification events to every subscribed hook. It implements notify.Publisher.
type Publisher struct {
	manager  *Manager
	executor *Executor
	log      *slog.Logger
}

// NewPublisher creates a Publisher over the hooks manager has discovered.
func NewPublisher(manager *Manager, executor *Executor) *Publisher {
	return &Publisher{manager: manager, executor: executor, log: logging.ForService("hook")}
}

// Publish runs each hook subscribed to e.Type in name order. All hooks run even
// if one fails; their errors are joined.
func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	var errs []error
	for _, h := range p.manager.For(e.Type) {
		resp, err := p.executor.Execute(ctx, h, &Request{Event: e, Config: h.Manifest.Config})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !resp.Success {
			errs = append(errs, fmt.Errorf("%w: %s: %s", ErrHookFailed, h.Manifest.Name, resp.Error))
			continue
		}
		p.log.Debug("hook ran", "hook", h.Manifest.Name, "event", e.Type)
	}
	return errors.Join(errs...)
}
