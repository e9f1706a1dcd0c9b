// Package supervisor bounds the wall-clock time of a single request's
// execution. Every execution produces exactly one outcome: a completion that
// arrives after the timeout has been decided is discarded, never delivered.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// Operation is the unit of work the supervisor runs. It must honor ctx
// cancellation; a stuck operation is abandoned after the grace window.
type Operation func(ctx context.Context) (*types.Response, error)

// Outcome is the single result of a supervised run.
type Outcome struct {
	Response *types.Response
	Err      error
	TimedOut bool
	Elapsed  time.Duration
}

type Supervisor struct {
	cfg    func() config.ExecutionConfig
	logger *slog.Logger
}

func New(cfg func() config.ExecutionConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

type opResult struct {
	resp *types.Response
	err  error
}

// Run executes op under the configured timeout. The caller is never blocked
// longer than timeout plus the grace window. After the timeout fires the
// operation's context is cancelled and the run is given the grace window to
// unwind; whether it unwinds or not, the outcome is a timeout.
func (s *Supervisor) Run(ctx context.Context, requestID string, op Operation) Outcome {
	cfg := s.cfg()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opCtx, cancel := context.WithCancel(ctx)
	start := time.Now()

	// Buffered so an abandoned operation can still complete its send.
	results := make(chan opResult, 1)
	go func() {
		resp, err := op(opCtx)
		results <- opResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		cancel()
		return Outcome{Response: res.resp, Err: res.err, Elapsed: time.Since(start)}

	case <-ctx.Done():
		cancel()
		s.drain(requestID, results, start)
		return Outcome{Err: ctx.Err(), Elapsed: time.Since(start)}

	case <-timer.C:
	}

	// Timeout decided. Cancel and give the operation the grace window to
	// observe cancellation, but the outcome no longer depends on it.
	cancel()
	graceTimer := time.NewTimer(cfg.Grace)
	defer graceTimer.Stop()

	select {
	case res := <-results:
		s.logLate(requestID, res, time.Since(start))
	case <-graceTimer.C:
		go func() {
			res := <-results
			s.logLate(requestID, res, time.Since(start))
		}()
	}

	return Outcome{TimedOut: true, Elapsed: time.Since(start)}
}

// drain consumes the abandoned operation's result in the background when the
// caller's own context ended the run.
func (s *Supervisor) drain(requestID string, results <-chan opResult, start time.Time) {
	go func() {
		res := <-results
		s.logLate(requestID, res, time.Since(start))
	}()
}

func (s *Supervisor) logLate(requestID string, res opResult, elapsed time.Duration) {
	s.logger.Info("late completion discarded",
		"request_id", requestID,
		"elapsed", elapsed,
		"completed_with_error", res.err != nil,
	)
}
