// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observer

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
)

// ErrDispatcherClosed is returned by Flush after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs the deliveries of committed transactions. Batches are
// handed over after the store released its barrier.
type Dispatcher interface {
	// Dispatch runs or schedules the deliveries of one transaction.
	Dispatch(batch []Delivery)
	// Flush returns once every batch dispatched before the call was delivered.
	Flush(ctx context.Context) error
	// Close stops accepting batches and waits for pending ones.
	Close(ctx context.Context) error
}

// InlineDispatcher delivers on the goroutine that committed the transaction.
// Callbacks of one subscription may run concurrently when several writers
// commit at the same time; stale values are still never delivered after newer ones.
type InlineDispatcher struct{}

// Dispatch implements Dispatcher.
func (InlineDispatcher) Dispatch(batch []Delivery) {
	for _, d := range batch {
		d.Deliver()
	}
}

// Flush implements Dispatcher.
func (InlineDispatcher) Flush(context.Context) error { return nil }

// Close implements Dispatcher.
func (InlineDispatcher) Close(context.Context) error { return nil }

// QueueDispatcher delivers on one dedicated goroutine in commit order.
//
// The goroutine stops on Close or when the context given to
// NewQueueDispatcher ends. After that Dispatch drops batches instead of
// blocking and Flush returns ErrDispatcherClosed.
type QueueDispatcher struct {
	name  string
	queue chan []Delivery

	closing   chan struct{}
	closeOnce sync.Once
	// stopped is closed when the delivery goroutine returned.
	stopped chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewQueueDispatcher starts the delivery goroutine. Dispatch blocks while
// size batches are waiting.
func NewQueueDispatcher(ctx context.Context, name string, size int) *QueueDispatcher {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	d := &QueueDispatcher{
		name:    name,
		queue:   make(chan []Delivery, size),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
		group:   group,
		cancel:  cancel,
	}

	group.Go(func() error {
		defer close(d.stopped)

		return d.run(gctx)
	})

	return d
}

func (d *QueueDispatcher) run(ctx context.Context) error {
	for {
		select {
		case batch := <-d.queue:
			d.deliver(batch)
		case <-d.closing:
			d.drain()

			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain delivers what was queued before Close.
func (d *QueueDispatcher) drain() {
	for {
		select {
		case batch := <-d.queue:
			d.deliver(batch)
		default:
			return
		}
	}
}

func (d *QueueDispatcher) deliver(batch []Delivery) {
	metrics.SetDispatchQueueDepth(d.name, len(d.queue))

	for _, del := range batch {
		del.Deliver()
	}
}

// Dispatch implements Dispatcher. Batches dispatched after the delivery
// goroutine stopped are dropped and counted.
func (d *QueueDispatcher) Dispatch(batch []Delivery) {
	if len(batch) == 0 {
		return
	}

	if d.isStopping() {
		d.dropped(batch)

		return
	}

	select {
	case d.queue <- batch:
		metrics.SetDispatchQueueDepth(d.name, len(d.queue))
	case <-d.closing:
		d.dropped(batch)
	case <-d.stopped:
		d.dropped(batch)
	}
}

func (d *QueueDispatcher) isStopping() bool {
	select {
	case <-d.closing:
		return true
	case <-d.stopped:
		return true
	default:
		return false
	}
}

func (d *QueueDispatcher) dropped(batch []Delivery) {
	for range batch {
		metrics.IncDroppedDelivery(d.name, metrics.DropStopped)
	}
}

// Flush implements Dispatcher.
func (d *QueueDispatcher) Flush(ctx context.Context) error {
	if d.isStopping() {
		return ErrDispatcherClosed
	}

	done := make(chan struct{})

	select {
	case d.queue <- []Delivery{{barrier: done}}:
	case <-d.closing:
		return ErrDispatcherClosed
	case <-d.stopped:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-d.stopped:
		// The barrier may have been the last delivery before the goroutine returned.
		select {
		case <-done:
			return nil
		default:
			return ErrDispatcherClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Dispatcher. Queued batches are delivered unless ctx ends
// first. Close never waits for senders blocked on a full queue; their
// batches are dropped.
func (d *QueueDispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.closing) })

	select {
	case <-d.stopped:
	case <-ctx.Done():
		d.cancel()

		return ctx.Err()
	}

	d.cancel()

	err := d.group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Stopped by the parent context before Close.
		return nil
	}

	return err
}
