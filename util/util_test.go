package util

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

type ctxKey struct{}

func TestDetachedContextOutlivesParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "run"))
	job := DetachedContextWithJob(parent, time.Second)
	cancel()

	ctx := job.GetContext()
	assert.NoError(t, ctx.Err())
	assert.Equal(t, "run", ctx.Value(ctxKey{}))

	job.Done()
	job.Done()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled after Done")
	}
}

func TestDetachedContextTimesOut(t *testing.T) {
	job := DetachedContextWithJob(context.Background(), 10*time.Millisecond)
	select {
	case <-job.GetContext().Done():
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled after max delay")
	}
}

func TestServeWithContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeWithContext(ctx, listener, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}), time.Second)
	}()

	resp, err := http.Get("http://" + listener.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	assert.NoError(t, <-done)
}
