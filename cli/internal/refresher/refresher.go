// Package refresher keeps prices.json current from a background service.
package refresher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kardianos/service"
	"golang.org/x/time/rate"

	"github.com/zhaobenny/lectic-usage/internal/logger"
	"github.com/zhaobenny/lectic-usage/internal/pricing"
)

const (
	ServiceName     = "lectic-usage-prices"
	DefaultInterval = 24 * time.Hour
)

// Refresher implements service.Interface for periodic price refreshes
type Refresher struct {
	client   *pricing.Client
	path     string
	interval time.Duration

	// Logger is the platform service log, nil when running interactively.
	Logger service.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a refresher writing the document fetched by client to path.
func New(client *pricing.Client, path string, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{client: client, path: path, interval: interval}
}

// ServiceConfig describes the installed service. dataDir and interval are
// passed back to `prices service run` on start.
func ServiceConfig(dataDir string, interval time.Duration) *service.Config {
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "lectic-usage price refresher",
		Description: "Periodically refreshes the lectic-usage price table",
		Arguments: []string{
			"prices", "service", "run",
			"--data-dir=" + dataDir,
			fmt.Sprintf("--interval=%s", interval),
		},
	}
}

func (r *Refresher) Start(s service.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(ctx)
	}()
	return nil
}

func (r *Refresher) Stop(s service.Service) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Run refreshes immediately and then once per interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(r.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.refreshOnce(ctx)
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	table, err := r.client.Refresh(ctx, r.path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("price refresh failed", "url", r.client.URL(), "err", err)
		if r.Logger != nil {
			r.Logger.Errorf("price refresh failed: %v", err)
		}
		return
	}

	logger.Info("prices refreshed", "path", r.path, "models", table.Len())
	if r.Logger != nil {
		r.Logger.Infof("Refreshed %d prices", table.Len())
	}
}
