package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

func supervisorConfig(timeout, grace time.Duration) func() config.ExecutionConfig {
	return func() config.ExecutionConfig {
		return config.ExecutionConfig{Timeout: timeout, Grace: grace}
	}
}

func TestRun_Completes(t *testing.T) {
	s := New(supervisorConfig(time.Second, 100*time.Millisecond), nil)

	out := s.Run(context.Background(), "r1", func(ctx context.Context) (*types.Response, error) {
		return &types.Response{RequestID: "r1", Content: "ok"}, nil
	})

	if out.TimedOut {
		t.Fatal("fast operation should not time out")
	}
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Response == nil || out.Response.Content != "ok" {
		t.Errorf("response = %+v", out.Response)
	}
}

func TestRun_OperationError(t *testing.T) {
	s := New(supervisorConfig(time.Second, 100*time.Millisecond), nil)

	wantErr := errors.New("upstream failed")
	out := s.Run(context.Background(), "r1", func(ctx context.Context) (*types.Response, error) {
		return nil, wantErr
	})

	if !errors.Is(out.Err, wantErr) {
		t.Errorf("err = %v, want %v", out.Err, wantErr)
	}
	if out.TimedOut {
		t.Error("an operation error is not a timeout")
	}
}

func TestRun_TimeoutCancelsOperation(t *testing.T) {
	s := New(supervisorConfig(50*time.Millisecond, 50*time.Millisecond), nil)

	cancelled := make(chan struct{})
	out := s.Run(context.Background(), "r1", func(ctx context.Context) (*types.Response, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	if !out.TimedOut {
		t.Fatal("slow operation should time out")
	}
	if out.Response != nil {
		t.Error("timed-out run must not deliver a response")
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("operation context was never cancelled")
	}
}

func TestRun_LateCompletionDiscarded(t *testing.T) {
	s := New(supervisorConfig(30*time.Millisecond, 20*time.Millisecond), nil)

	done := make(chan struct{})
	out := s.Run(context.Background(), "r1", func(ctx context.Context) (*types.Response, error) {
		defer close(done)
		time.Sleep(150 * time.Millisecond) // ignores cancellation
		return &types.Response{Content: "too late"}, nil
	})

	if !out.TimedOut {
		t.Fatal("run should have timed out")
	}
	if out.Response != nil {
		t.Error("late completion leaked into the outcome")
	}

	// The stuck goroutine still finishes and its send does not block.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("abandoned operation never finished")
	}
}

func TestRun_CallerNotBlockedPastGrace(t *testing.T) {
	timeout := 30 * time.Millisecond
	grace := 20 * time.Millisecond
	s := New(supervisorConfig(timeout, grace), nil)

	start := time.Now()
	s.Run(context.Background(), "r1", func(ctx context.Context) (*types.Response, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	})
	elapsed := time.Since(start)

	if elapsed > timeout+grace+100*time.Millisecond {
		t.Errorf("caller blocked for %s, want at most timeout+grace", elapsed)
	}
}

func TestRun_CallerContextCancellation(t *testing.T) {
	s := New(supervisorConfig(5*time.Second, 100*time.Millisecond), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out := s.Run(ctx, "r1", func(ctx context.Context) (*types.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", out.Err)
	}
	if out.TimedOut {
		t.Error("caller cancellation is not a timeout")
	}
}
