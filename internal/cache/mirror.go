package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// SetStore is where the mirror writes snapshots.
type SetStore interface {
	Replace(ctx context.Context, ids []int64) error
}

// Mirror copies presence snapshots to a SetStore off the caller's goroutine.
// Only the newest pending snapshot is kept.
type Mirror struct {
	store  SetStore
	logger *zap.SugaredLogger

	pending chan []int64
	stop    chan struct{}
	done    chan struct{}
}

func NewMirror(store SetStore, logger *zap.SugaredLogger) *Mirror {
	m := &Mirror{
		store:   store,
		logger:  logger,
		pending: make(chan []int64, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Observe matches presence.Observer and never blocks.
func (m *Mirror) Observe(online []int64) {
	snapshot := append([]int64(nil), online...)
	for {
		select {
		case m.pending <- snapshot:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ids := <-m.pending:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := m.store.Replace(ctx, ids); err != nil {
				m.logger.Warnw("mirroring presence", "online", len(ids), "error", err)
			}
			cancel()
		}
	}
}

// Close stops the writer. Pending snapshots are discarded.
func (m *Mirror) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}
