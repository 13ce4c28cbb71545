package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/Fliegerweb/searchsync/x"
)

// Sweeper re-reconciles every configured collection on a fixed cadence.
// Notifications keep the index fresh; the sweeper keeps it honest when a
// notification got lost or the daemon was down while rows changed.
type Sweeper struct {
	engine *Indexer
	wait   time.Duration
	stop   chan struct{}
	wg     *sync.WaitGroup
}

// NewSweeper returns a sweeper that runs a full reconcile pass, then waits
// for the given duration before the next one.
func NewSweeper(engine *Indexer, wait time.Duration) *Sweeper {
	s := &Sweeper{
		engine: engine,
		wait:   wait,
		stop:   make(chan struct{}),
	}
	s.wg = new(sync.WaitGroup)
	return s
}

// Start launches the sweep loop. The first pass begins right away.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if err := s.engine.InitAllIndexes(ctx); err != nil {
				x.LogErr(log, err).Error("While sweeping collections")
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-time.After(s.wait):
			}
		}
	}()
}

// Finish stops the loop and waits for a sweep in flight to end.
func (s *Sweeper) Finish() {
	close(s.stop)
	s.wg.Wait()
}
