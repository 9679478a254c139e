// Package worker is the reference execution substrate. It leases work items
// over the worker API, runs the module's command for the slice, keeps the
// lease alive while the command runs, and reports the outcome.
//
// A module command receives the leased work item as JSON on stdin and the
// slice in OBSCORE_* environment variables. It writes the observation array
// to stdout. A non-zero exit is reported as a retryable failure; output that
// is not a JSON array is reported as a permanent one.
package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/me/obscore/pkg/model"
)

// Config holds worker configuration.
type Config struct {
	ServerURL string
	WorkerKey string
	Name      string   // Worker ID reported to the scheduler; generated when empty
	Modules   []string // Restrict acquires to these modules; empty means any
	Key       string   // Restrict acquires to one partition key
	Runtime   string   // "none" or "docker"
	Image     string   // Container image for the docker runtime
	WorkDir   string
	Poll      time.Duration
	TLS       *tls.Config // nil uses the system defaults
}

// Worker polls for work, executes it and reports results.
type Worker struct {
	id      string
	client  *Client
	runtime Runtime
	image   string
	filter  model.WorkFilter
	workDir string
	poll    time.Duration
	logger  *slog.Logger
}

// New creates a Worker from configuration.
func New(cfg Config, logger *slog.Logger) (*Worker, error) {
	rt, err := NewRuntime(cfg.Runtime)
	if err != nil {
		return nil, err
	}
	if cfg.Runtime == "docker" && cfg.Image == "" {
		return nil, fmt.Errorf("docker runtime requires an image")
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "obscore-worker")
	}
	if cfg.Poll == 0 {
		cfg.Poll = 5 * time.Second
	}

	client := NewClient(cfg.ServerURL, cfg.TLS)
	if cfg.WorkerKey != "" {
		client.SetWorkerKey(cfg.WorkerKey)
	}

	return &Worker{
		id:      cfg.Name,
		client:  client,
		runtime: rt,
		image:   cfg.Image,
		filter:  model.WorkFilter{ModuleIDs: cfg.Modules, Key: cfg.Key},
		workDir: cfg.WorkDir,
		poll:    cfg.Poll,
		logger:  logger.With("component", "worker", "worker_id", cfg.Name),
	}, nil
}

// DefaultName returns hostname plus a random suffix so that two workers on
// one host never share leases.
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.New().String()[:8]
}

// ID returns the worker ID used for leases.
func (w *Worker) ID() string {
	return w.id
}

// Run polls for work until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir %s: %w", w.workDir, err)
	}
	w.logger.Info("worker started", "server", w.client.baseURL, "modules", w.filter.ModuleIDs, "poll", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		// Drain available work before waiting for the next tick.
		for {
			did, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("poll error", "error", err)
			}
			if !did || err != nil || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce acquires and executes at most one work item. It reports whether
// an item was acquired.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	asg, err := w.client.Acquire(ctx, w.id, w.filter)
	if err != nil {
		return false, fmt.Errorf("acquire: %w", err)
	}
	if asg == nil {
		return false, nil
	}

	w.logger.Info("work item received", "id", asg.ID, "module", asg.ModuleID,
		"slice", asg.Slice.String(), "attempt", asg.AttemptCount)
	if err := os.MkdirAll(w.workDir, 0o755); err != nil {
		return true, w.fail(ctx, asg, fmt.Errorf("create workdir: %w", err), true)
	}
	return true, w.execute(ctx, asg)
}

// execute runs one assignment with a background lease renewer. When the
// lease is lost the command is cancelled and its output discarded.
func (w *Worker) execute(ctx context.Context, asg *model.Assignment) error {
	if len(asg.Command) == 0 {
		return w.fail(ctx, asg, errors.New("module has no command"), false)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan error, 1)
	go w.renewLoop(runCtx, asg, cancel, lost)

	stdin, err := json.Marshal(asg.WorkItem)
	if err != nil {
		return w.fail(ctx, asg, fmt.Errorf("marshal work item: %w", err), false)
	}

	itemDir := filepath.Join(w.workDir, asg.ID)
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return w.fail(ctx, asg, fmt.Errorf("create item dir: %w", err), true)
	}
	defer os.RemoveAll(itemDir)

	result, runErr := w.runtime.Run(runCtx, RunSpec{
		Image:   w.image,
		Command: asg.Command,
		WorkDir: itemDir,
		Env:     sliceEnv(asg),
		Stdin:   stdin,
	})
	cancel()

	select {
	case err := <-lost:
		w.logger.Warn("lease lost, discarding output", "id", asg.ID, "error", err)
		return nil
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if runErr != nil {
		return w.fail(ctx, asg, runErr, true)
	}
	if result.ExitCode != 0 {
		return w.fail(ctx, asg, fmt.Errorf("exit code %d: %s", result.ExitCode, lastLine(result.Stderr)), true)
	}

	payload := bytes.TrimSpace(result.Stdout)
	if len(payload) == 0 {
		payload = []byte("[]")
	}
	var obs []json.RawMessage
	if err := json.Unmarshal(payload, &obs); err != nil {
		return w.fail(ctx, asg, fmt.Errorf("output is not a JSON array: %w", err), false)
	}

	res, err := w.client.SubmitResult(ctx, asg.ID, w.id, payload)
	if err != nil {
		return w.leaseGone(asg, "submit", err)
	}
	if err := w.client.Complete(ctx, asg.ID, w.id, res.ID); err != nil {
		return w.leaseGone(asg, "complete", err)
	}
	w.logger.Info("work item completed", "id", asg.ID, "result_id", res.ID, "observations", len(obs))
	return nil
}

// renewLoop renews the lease at half its remaining lifetime. A lease or
// version error cancels the run and is sent on lost.
func (w *Worker) renewLoop(ctx context.Context, asg *model.Assignment, cancel context.CancelFunc, lost chan<- error) {
	expiry := time.Now().Add(time.Minute)
	if asg.LeaseExpiry != nil {
		expiry = *asg.LeaseExpiry
	}
	for {
		wait := time.Until(expiry) / 2
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		next, err := w.client.Renew(ctx, asg.ID, w.id)
		switch {
		case err == nil:
			expiry = next
			w.logger.Debug("lease renewed", "id", asg.ID, "expiry", next)
		case errors.Is(err, model.ErrLeaseLost), errors.Is(err, model.ErrStaleModuleVersion), errors.Is(err, model.ErrNotFound):
			lost <- err
			cancel()
			return
		case ctx.Err() != nil:
			return
		default:
			w.logger.Warn("lease renew failed", "id", asg.ID, "error", err)
		}
	}
}

// fail reports a failed attempt. Losing the lease first is not an error.
func (w *Worker) fail(ctx context.Context, asg *model.Assignment, cause error, retryable bool) error {
	state, err := w.client.Fail(ctx, asg.ID, w.id, cause.Error(), retryable)
	if err != nil {
		return w.leaseGone(asg, "fail", fmt.Errorf("%w (original: %v)", err, cause))
	}
	w.logger.Warn("work item failed", "id", asg.ID, "state", state, "retryable", retryable, "error", cause)
	return nil
}

func (w *Worker) leaseGone(asg *model.Assignment, op string, err error) error {
	if errors.Is(err, model.ErrLeaseLost) || errors.Is(err, model.ErrStaleModuleVersion) {
		w.logger.Warn("lease lost", "id", asg.ID, "op", op, "error", err)
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, asg.ID, err)
}

// sliceEnv describes the assignment to the module command.
func sliceEnv(asg *model.Assignment) map[string]string {
	return map[string]string{
		"OBSCORE_WORK_ITEM":      asg.ID,
		"OBSCORE_MODULE":         asg.ModuleID,
		"OBSCORE_MODULE_VERSION": strconv.Itoa(asg.ModuleVersion),
		"OBSCORE_SLICE_KEY":      asg.Slice.Key,
		"OBSCORE_SLICE_START":    asg.Slice.Start.UTC().Format(time.RFC3339),
		"OBSCORE_SLICE_END":      asg.Slice.End.UTC().Format(time.RFC3339),
		"OBSCORE_INPUT_SEQ":      strconv.FormatInt(asg.InputSeq, 10),
		"OBSCORE_ATTEMPT":        strconv.Itoa(asg.AttemptCount),
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
