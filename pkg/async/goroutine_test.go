package async

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a bytes.Buffer written from the SafeGo goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	SetLogger(l)
	t.Cleanup(func() { SetLogger(logrus.StandardLogger()) })
	return buf
}

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_LogsError(t *testing.T) {
	buf := captureLogs(t)

	SafeGo(context.Background(), time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("test error")
	})

	assert.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "failing task") && strings.Contains(out, "test error")
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	var cancelled atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		defer close(done)
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			cancelled.Store(true)
			return ctx.Err()
		}
	})

	<-done
	assert.True(t, cancelled.Load(), "task context should be cancelled by the timeout")
}

func TestSafeGo_NoTimeout(t *testing.T) {
	done := make(chan bool, 1)

	SafeGo(context.Background(), 0, "unbounded task", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		done <- hasDeadline
		return nil
	})

	assert.False(t, <-done)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	buf := captureLogs(t)

	SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
		panic("boom")
	})

	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "panic in background task")
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGoNoError(t *testing.T) {
	var executed atomic.Bool

	SafeGoNoError(context.Background(), time.Second, "void task", func(ctx context.Context) {
		executed.Store(true)
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}
