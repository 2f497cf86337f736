package fileserver

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cachetier/cachetier/pkg/logging"
	"github.com/cachetier/cachetier/pkg/metrics"
	"github.com/cachetier/cachetier/pkg/queue"
)

// Runtime owns the acceptor loop, the fixed worker pool, and the
// metrics reporter for one listener, coordinated the way the
// teacher's Scheduler.Run coordinates its own goroutines with an
// errgroup: any one of them returning an error tears down the rest.
type Runtime struct {
	listener net.Listener
	handler  *Handler
	queue    *queue.Queue
	recorder *metrics.Recorder
	log      logging.Logger
	workers  int
}

// NewRuntime creates a Runtime that accepts on listener and dispatches
// to workers workers through a queue of the given capacity.
func NewRuntime(listener net.Listener, handler *Handler, recorder *metrics.Recorder, log logging.Logger, workers, queueCapacity int) *Runtime {
	if workers < 1 {
		workers = 1
	}
	return &Runtime{
		listener: listener,
		handler:  handler,
		queue:    queue.New(queueCapacity),
		recorder: recorder,
		log:      log,
		workers:  workers,
	}
}

// Run starts the acceptor, the worker pool, and the metrics reporter,
// and blocks until ctx is cancelled or one of them fails. On return,
// the listener and queue are closed so no accepted socket is leaked.
func (rt *Runtime) Run(ctx context.Context, metricsInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.acceptLoop(ctx)
	})

	for i := 0; i < rt.workers; i++ {
		g.Go(func() error {
			rt.workerLoop()
			return nil
		})
	}

	g.Go(func() error {
		return rt.recorder.Run(ctx, rt.log, metricsInterval, rt.handler.cache.Len)
	})

	go func() {
		<-ctx.Done()
		rt.queue.Close()
		_ = rt.listener.Close()
	}()

	err := g.Wait()
	rt.queue.Close()
	if err == context.Canceled {
		return nil
	}
	return err
}

// acceptLoop accepts connections and enqueues them until the listener
// is closed (which happens when ctx is cancelled).
func (rt *Runtime) acceptLoop(ctx context.Context) error {
	for {
		conn, err := rt.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		if err := rt.queue.Enqueue(conn); err != nil {
			conn.Close()
			return nil
		}
	}
}

// workerLoop repeatedly dequeues a connection and serves it, exiting
// once the queue is closed and drained.
func (rt *Runtime) workerLoop() {
	for {
		conn, ok := rt.queue.Dequeue()
		if !ok {
			return
		}
		rt.handler.Serve(conn)
	}
}
