package queue

import (
	"context"
	"time"

	"github.com/apex/log"
)

/*
Start begin the background trigger loop

	@param ctx context.Context - execution context bounding the loop
*/
func (m *queueManager) Start(ctx context.Context) {
	m.lock.Lock()
	if m.loopDone != nil {
		m.lock.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.loopCtxCancel = cancel
	m.loopDone = make(chan struct{})
	done := m.loopDone
	m.lock.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		log.WithFields(m.LogTags).Info("Queue trigger loop started")
		for {
			select {
			case <-loopCtx.Done():
				log.WithFields(m.LogTags).Info("Queue trigger loop stopped")
				return

			case online := <-m.transitions:
				if !online {
					continue
				}
				m.requestSync()

			case <-ticker.C:
				m.requestSync()

			case <-m.syncRequest:
				if _, err := m.SyncQueue(loopCtx); err != nil {
					log.WithFields(m.LogTags).WithError(err).Warn("Background queue drain failed")
				}
			}
		}
	}()
}

// requestSync post a sync request without blocking
//
// The request channel holds one slot; a request posted while one is already
// pending coalesces into it.
func (m *queueManager) requestSync() {
	select {
	case m.syncRequest <- struct{}{}:
	default:
	}
}

// Stop halt the background trigger loop
func (m *queueManager) Stop() {
	m.lock.Lock()
	cancel := m.loopCtxCancel
	done := m.loopDone
	m.loopCtxCancel = nil
	m.loopDone = nil
	m.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
