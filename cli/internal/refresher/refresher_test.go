package refresher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/lectic-usage/internal/pricing"
)

func TestRunRefreshesUntilCanceled(t *testing.T) {
	var hits atomic.Int32
	third := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 3 {
			close(third)
		}
		w.Write([]byte(`{"prices":[{"id":"m","input":1,"output":2}]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "prices.json")
	r := New(pricing.NewClient(srv.URL), path, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-third:
	case <-time.After(5 * time.Second):
		t.Fatal("refresher did not run three times")
	}
	cancel()

	err := <-errCh
	assert.True(t, errors.Is(err, context.Canceled))

	table, err := pricing.LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestRunKeepsGoingAfterFailure(t *testing.T) {
	var hits atomic.Int32
	third := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		// the third request only starts once the second was written
		if n == 3 {
			close(third)
		}
		w.Write([]byte(`{"prices":[]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "prices.json")
	r := New(pricing.NewClient(srv.URL), path, 5*time.Millisecond)
	require.NoError(t, r.Start(nil))

	select {
	case <-third:
	case <-time.After(5 * time.Second):
		t.Fatal("refresher stopped after a failed fetch")
	}
	require.NoError(t, r.Stop(nil))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	r := New(pricing.NewClient("http://127.0.0.1:0"), "unused", 0)
	assert.NoError(t, r.Stop(nil))
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestServiceConfig(t *testing.T) {
	cfg := ServiceConfig("/data", time.Hour)
	assert.Equal(t, ServiceName, cfg.Name)
	assert.Equal(t, []string{"prices", "service", "run", "--data-dir=/data", "--interval=1h0m0s"}, cfg.Arguments)
}
