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

// Package observer owns the subscriptions of a store and turns the writes of
// one transaction into coalesced, bottom-up consistent notifications.
//
// Each transaction moves the registry through
//
//	idle -> accumulating -> draining -> idle
//
// Enqueue is only valid while accumulating. Drain propagates every pending
// change to all ancestors, then snapshots the values for every affected
// subscription. The snapshot is taken inside the transaction; delivery runs
// afterwards through a Dispatcher.
//
// All methods except Subscription.Cancel and Dispatch must be called while
// the owning store holds its write barrier.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
	"github.com/united-manufacturing-hub/normcache/pkg/sentry"
)

// ErrInvalidTransition is returned when an operation does not fit the
// current transaction state.
var ErrInvalidTransition = errors.New("invalid transaction state transition")

const (
	StateIdle         = "idle"
	StateAccumulating = "accumulating"
	StateDraining     = "draining"

	EventBegin  = "begin"
	EventDrain  = "drain"
	EventFinish = "finish"
	EventAbort  = "abort"
)

const (
	dropCancelled = metrics.DropCancelled
	dropStale     = metrics.DropStale
)

// Options configures a Registry.
type Options struct {
	// Name labels metrics and error reports.
	Name string
	// Dispatcher runs deliveries. Nil selects InlineDispatcher.
	Dispatcher Dispatcher
	// Copy isolates snapshot values from stored state. Nil shares values.
	Copy func(any) any
	// OnCancel is invoked by Subscription.Cancel. The store uses it to take
	// its barrier before calling Remove. Nil calls Remove directly.
	OnCancel func(*Subscription)
	Logger   *zap.SugaredLogger
}

// Registry tracks subscriptions and the pending set of the in-flight transaction.
type Registry struct {
	name       string
	table      *graph.Table
	dispatcher Dispatcher
	copyValue  func(any) any
	onCancel   func(*Subscription)
	log        *zap.SugaredLogger

	machine *fsm.FSM

	subs     map[uuid.UUID]*Subscription
	watchers map[entity.Identity]map[uuid.UUID]*Subscription
	ordinal  uint64

	pending map[entity.Identity]struct{}
	order   []entity.Identity
	txID    uuid.UUID
	seq     uint64
}

// NewRegistry creates a registry observing the nodes of table.
func NewRegistry(table *graph.Table, opts Options) *Registry {
	r := &Registry{
		name:       opts.Name,
		table:      table,
		dispatcher: opts.Dispatcher,
		copyValue:  opts.Copy,
		onCancel:   opts.OnCancel,
		log:        opts.Logger,
		subs:       make(map[uuid.UUID]*Subscription),
		watchers:   make(map[entity.Identity]map[uuid.UUID]*Subscription),
		pending:    make(map[entity.Identity]struct{}),
	}

	if r.dispatcher == nil {
		r.dispatcher = InlineDispatcher{}
	}

	if r.copyValue == nil {
		r.copyValue = func(v any) any { return v }
	}

	if r.log == nil {
		r.log = logger.For(logger.ComponentObserver)
	}

	r.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventBegin, Src: []string{StateIdle}, Dst: StateAccumulating},
			{Name: EventDrain, Src: []string{StateAccumulating}, Dst: StateDraining},
			{Name: EventFinish, Src: []string{StateDraining}, Dst: StateIdle},
			{Name: EventAbort, Src: []string{StateAccumulating, StateDraining}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StateAccumulating: func(_ context.Context, _ *fsm.Event) {
				r.txID = uuid.New()
			},
			"enter_" + StateIdle: func(_ context.Context, e *fsm.Event) {
				r.resetPending()

				if e.Event == EventAbort {
					r.log.Debugw("transaction aborted", "tx", r.txID)
				}
			},
		},
	)

	return r
}

func (r *Registry) transition(ctx context.Context, event string) error {
	if err := r.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s in state %s: %w", ErrInvalidTransition, event, r.machine.Current(), err)
	}

	return nil
}

func (r *Registry) resetPending() {
	clear(r.pending)
	r.order = r.order[:0]
}

// State returns the current transaction state.
func (r *Registry) State() string { return r.machine.Current() }

// Seq returns the sequence number of the last drained transaction.
func (r *Registry) Seq() uint64 { return r.seq }

// TxID returns the id of the current or last transaction.
func (r *Registry) TxID() uuid.UUID { return r.txID }

// Begin starts accumulating a transaction.
func (r *Registry) Begin(ctx context.Context) error {
	return r.transition(ctx, EventBegin)
}

// Abort discards the pending set and returns to idle.
func (r *Registry) Abort(ctx context.Context) error {
	return r.transition(ctx, EventAbort)
}

// Enqueue marks a node as changed in the current transaction. Repeated
// enqueues of the same identity coalesce.
func (r *Registry) Enqueue(id entity.Identity) error {
	if state := r.machine.Current(); state != StateAccumulating {
		return fmt.Errorf("%w: enqueue in state %s", ErrInvalidTransition, state)
	}

	if _, ok := r.pending[id]; ok {
		return nil
	}

	r.pending[id] = struct{}{}
	r.order = append(r.order, id)

	return nil
}

// Pending returns the identities enqueued so far, in enqueue order.
func (r *Registry) Pending() []entity.Identity {
	return append([]entity.Identity(nil), r.order...)
}

// Subscribe registers cb for targets, retains their nodes and returns the
// initial delivery. The caller runs it after releasing the barrier. Every
// target node must already exist in the table.
func (r *Registry) Subscribe(targets []entity.Identity, cb Callback) (*Subscription, Delivery) {
	r.ordinal++

	sub := &Subscription{
		id:       uuid.New(),
		ordinal:  r.ordinal,
		targets:  append([]entity.Identity(nil), targets...),
		cb:       cb,
		registry: r,
	}
	sub.alive.Store(true)

	for _, id := range sub.targets {
		if n, ok := r.table.Get(id); ok {
			n.Retain()
		}

		w, ok := r.watchers[id]
		if !ok {
			w = make(map[uuid.UUID]*Subscription)
			r.watchers[id] = w
		}

		w[sub.id] = sub
	}

	r.subs[sub.id] = sub
	metrics.SetSubscriptionCount(r.name, len(r.subs))

	return sub, Delivery{sub: sub, values: r.snapshot(sub.targets), seq: r.seq}
}

// Remove unregisters sub and releases its nodes. It is idempotent.
func (r *Registry) Remove(sub *Subscription) {
	if _, ok := r.subs[sub.id]; !ok {
		return
	}

	delete(r.subs, sub.id)

	for _, id := range sub.targets {
		if n, ok := r.table.Get(id); ok {
			n.Release()
		}

		if w, ok := r.watchers[id]; ok {
			delete(w, sub.id)

			if len(w) == 0 {
				delete(r.watchers, id)
			}
		}
	}

	metrics.SetSubscriptionCount(r.name, len(r.subs))
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int { return len(r.subs) }

// Watched reports whether any subscription watches id.
func (r *Registry) Watched(id entity.Identity) bool {
	return len(r.watchers[id]) > 0
}

// Dispatch hands a drained batch to the dispatcher.
func (r *Registry) Dispatch(batch *Batch) {
	if batch == nil || len(batch.Deliveries) == 0 {
		return
	}

	r.dispatcher.Dispatch(batch.Deliveries)
}

// Dispatcher returns the dispatcher deliveries are handed to.
func (r *Registry) Dispatcher() Dispatcher { return r.dispatcher }

func (r *Registry) snapshot(targets []entity.Identity) []any {
	values := make([]any, len(targets))

	for i, id := range targets {
		if n, ok := r.table.Get(id); ok && n.HasValue() {
			values[i] = r.copyValue(n.Value())
		}
	}

	return values
}

func (r *Registry) cancel(sub *Subscription) {
	if r.onCancel != nil {
		r.onCancel(sub)

		return
	}

	r.Remove(sub)
}

func (r *Registry) dropped(reason string) {
	metrics.IncDroppedDelivery(r.name, reason)
}

func (r *Registry) callbackPanicked(sub *Subscription, rec any, stack []byte) {
	metrics.IncErrorCount(metrics.ComponentObserver, r.name)
	sentry.ReportCallbackPanic(r.log, r.name, sub.id.String(), rec, stack)
}

func sortedSubs(m map[uuid.UUID]*Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ordinal < out[j].ordinal })

	return out
}
