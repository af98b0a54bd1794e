package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// KeepAliveSink pings its sink whenever no event was emitted for an interval.
type KeepAliveSink struct {
	sink     Pinger
	interval time.Duration

	mu   sync.Mutex
	last time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// KeepAlive starts pinging sink while idle. Call Stop when the stream ends.
func KeepAlive(ctx context.Context, sink Pinger, interval time.Duration) *KeepAliveSink {
	k := &KeepAliveSink{
		sink:     sink,
		interval: interval,
		last:     time.Now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if interval <= 0 {
		close(k.done)
		return k
	}
	go k.loop(ctx)
	return k
}

// Emit implements engine.ProgressSink.
func (k *KeepAliveSink) Emit(ctx context.Context, ev protocol.Event) error {
	k.mu.Lock()
	k.last = time.Now()
	k.mu.Unlock()
	return k.sink.Emit(ctx, ev)
}

// Stop ends the ping loop and waits for it to exit.
func (k *KeepAliveSink) Stop() {
	k.once.Do(func() { close(k.stop) })
	<-k.done
}

func (k *KeepAliveSink) loop(ctx context.Context) {
	defer close(k.done)
	tick := k.interval / 2
	if tick <= 0 {
		tick = k.interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stop:
			return
		case now := <-ticker.C:
			k.mu.Lock()
			idle := now.Sub(k.last) >= k.interval
			k.mu.Unlock()
			if !idle {
				continue
			}
			if err := k.sink.Ping(ctx); err != nil {
				slog.Debug("keepalive failed", "error", err)
				return
			}
			k.mu.Lock()
			k.last = now
			k.mu.Unlock()
		}
	}
}
