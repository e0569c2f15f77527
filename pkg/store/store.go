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

// Package store is the normalized entity cache.
//
// An EntityStore keeps every entity once, addressed by its identity, however
// many aggregates embed it. Writing an aggregate decomposes it into its nested
// entities, stores each of them, links them into the graph and notifies the
// observers of every node whose value changed, parents after children.
//
// Entities are retained only while something needs them: an observer, an
// anchor, or a retained parent. Everything else is reclaimed lazily by the
// next lookup that finds it unretained, or by Compact.
//
// Writes are serialized by a single writer barrier. Reads run concurrently
// with each other and always see the state of the last committed write.
// Observer callbacks run after the writer released the barrier; a callback
// may call back into the store. Mutators passed to Update and UpdateAnchor run
// inside the barrier and must not.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/pkg/config"
	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/ctxutil/ctxrwmutex"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
	"github.com/united-manufacturing-hub/normcache/pkg/observer"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
	"github.com/united-manufacturing-hub/normcache/pkg/sentry"
)

var (
	// ErrTypeMismatch is returned when a stored value is read as a different Go type.
	ErrTypeMismatch = errors.New("stored value has a different type")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store closed")
)

// Operation names used as metric labels and in error reports.
const (
	OpSave          = "save"
	OpSaveAll       = "save_all"
	OpSaveIfPresent = "save_if_present"
	OpUpdate        = "update"
	OpUpdateAnchor  = "update_anchor"
	OpRemoveAlias   = "remove_alias"
	OpObserve       = "observe"
	OpSweep         = "sweep"
	OpCompact       = "compact"
)

// Option customizes an EntityStore.
type Option func(*EntityStore)

// WithDiagnostics installs d. Nil keeps the no-op default.
func WithDiagnostics(d Diagnostics) Option {
	return func(s *EntityStore) {
		if d != nil {
			s.diag = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *EntityStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDispatcher overrides the dispatcher selected by config.Dispatch.
// The store closes it on Close.
func WithDispatcher(d observer.Dispatcher) Option {
	return func(s *EntityStore) {
		s.dispatcher = d
	}
}

// EntityStore is the normalized cache. Create it with New.
type EntityStore struct {
	name       string
	copyValues bool

	schemas    *schema.Registry
	anchors    schema.Codec
	barrier    *ctxrwmutex.CtxRWMutex
	table      *graph.Table
	registry   *observer.Registry
	dispatcher observer.Dispatcher
	aliases    *aliasTable

	diag Diagnostics
	log  *zap.SugaredLogger

	unregisterDebug func()
	closed          atomic.Bool
}

// New creates a store for the types registered in schemas. ctx bounds the
// lifetime of the queue dispatcher, if config selects one.
func New(ctx context.Context, cfg config.Config, schemas *schema.Registry, opts ...Option) (*EntityStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if schemas == nil {
		schemas = schema.NewRegistry()
	}

	s := &EntityStore{
		name:       cfg.Name,
		copyValues: cfg.CopyValues,
		schemas:    schemas,
		anchors:    anchorCodec,
		barrier:    ctxrwmutex.NewCtxRWMutex(cfg.MaxReaders),
		table: graph.NewTable(graph.Options{
			Shards:         cfg.Shards,
			StampRetention: cfg.StampRetention,
		}),
		aliases: newAliasTable(),
		diag:    NopDiagnostics{},
		log:     logger.For(logger.ComponentStore).With("store", cfg.Name),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dispatcher == nil {
		switch cfg.Dispatch.Mode {
		case config.DispatchQueue:
			s.dispatcher = observer.NewQueueDispatcher(ctx, cfg.Name, cfg.Dispatch.QueueSize)
		default:
			s.dispatcher = observer.InlineDispatcher{}
		}
	}

	regOpts := observer.Options{
		Name:       cfg.Name,
		Dispatcher: s.dispatcher,
		OnCancel:   s.cancelSubscription,
		Logger:     logger.For(logger.ComponentObserver).With("store", cfg.Name),
	}
	if s.copyValues {
		regOpts.Copy = s.copyAny
	}

	s.registry = observer.NewRegistry(s.table, regOpts)

	metrics.InitStore(s.name)
	s.unregisterDebug = metrics.RegisterDebugProvider(s.name, s)

	s.log.Debugw("store created",
		"shards", cfg.Shards,
		"dispatch", cfg.Dispatch.Mode,
		"copyValues", cfg.CopyValues,
		"stampRetention", cfg.StampRetention)

	return s, nil
}

// Name returns the configured store name.
func (s *EntityStore) Name() string { return s.name }

// Flush waits until every notification of committed writes was delivered.
func (s *EntityStore) Flush(ctx context.Context) error {
	return s.dispatcher.Flush(ctx)
}

// Close stops notification delivery. Pending notifications are delivered
// unless ctx ends first. Subsequent operations fail with ErrClosed.
func (s *EntityStore) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.unregisterDebug()

	if err := s.dispatcher.Close(ctx); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentDispatcher, s.name, err, s.log)

		return fmt.Errorf("close dispatcher of store %s: %w", s.name, err)
	}

	return nil
}

func (s *EntityStore) codecFor(typ entity.TypeTag) schema.Codec {
	if typ == constants.AnchorType {
		return s.anchors
	}

	if c, ok := s.schemas.Lookup(typ); ok {
		return c
	}

	return nil
}

// transact runs fn under the writer barrier and commits its changes.
// Notifications are dispatched after the barrier was released.
func (s *EntityStore) transact(ctx context.Context, operation string, fn func(tx *txn) error) (*txn, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()

	if err := s.barrier.Lock(ctx); err != nil {
		return nil, fmt.Errorf("%s: acquire write barrier: %w", operation, err)
	}

	tx := newTxn(ctx, s, operation)
	batch, err := s.commit(tx, fn)

	s.barrier.Unlock()

	s.registry.Dispatch(batch)
	tx.report(batch)
	metrics.ObserveTransaction(s.name, operation, time.Since(start))

	return tx, err
}

func (s *EntityStore) commit(tx *txn, fn func(tx *txn) error) (*observer.Batch, error) {
	err := fn(tx)

	var batch *observer.Batch

	if tx.begun {
		// The state machine must always return to idle, whatever ctx does.
		fsmCtx := context.WithoutCancel(tx.ctx)

		if err != nil {
			if abortErr := s.registry.Abort(fsmCtx); abortErr != nil {
				err = errors.Join(err, abortErr)
			}
		} else {
			batch, err = s.registry.Drain(fsmCtx)
		}
	}

	if err == nil {
		for _, hook := range tx.onCommit {
			hook()
		}
	}

	metrics.SetNodeCount(s.name, s.table.Len())

	return batch, err
}

// sweep reclaims ids that nothing retains any more. A node retained again
// in the meantime is left alone.
func (s *EntityStore) sweep(ctx context.Context, ids ...entity.Identity) {
	if err := s.barrier.Lock(ctx); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentStore, s.name, fmt.Errorf("%s skipped: %w", OpSweep, err), s.log)

		return
	}
	defer s.barrier.Unlock()

	for _, id := range ids {
		s.collect(id)
	}
}

func (s *EntityStore) collect(id entity.Identity) {
	reclaimed := s.table.Collect(id)
	if len(reclaimed) == 0 {
		return
	}

	metrics.AddReclaimed(s.name, len(reclaimed))
	metrics.SetNodeCount(s.name, s.table.Len())
	s.log.Debugw("reclaimed unretained nodes", "trigger", id.String(), "count", len(reclaimed))
}

// Compact reclaims every node that is not retained and returns how many
// were removed. The store never compacts on its own.
func (s *EntityStore) Compact(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()

	if err := s.barrier.Lock(ctx); err != nil {
		return 0, fmt.Errorf("%s: acquire write barrier: %w", OpCompact, err)
	}

	reclaimed := s.table.Compact()
	nodes := s.table.Len()

	s.barrier.Unlock()

	metrics.AddReclaimed(s.name, len(reclaimed))
	metrics.SetNodeCount(s.name, nodes)
	metrics.ObserveTransaction(s.name, OpCompact, time.Since(start))
	s.log.Debugw("compacted node table", "reclaimed", len(reclaimed), "remaining", nodes)

	return len(reclaimed), nil
}

func (s *EntityStore) cancelSubscription(sub *observer.Subscription) {
	// Cancel has no context; it waits for the running writer to finish.
	_ = s.barrier.Lock(context.Background())
	defer s.barrier.Unlock()

	s.registry.Remove(sub)
}

// readValue returns the current value of id, or nil when the node is absent
// or was never written.
func (s *EntityStore) readValue(ctx context.Context, id entity.Identity) (any, error) {
	if err := s.barrier.RLock(ctx); err != nil {
		return nil, err
	}
	defer s.barrier.RUnlock()

	n, ok := s.table.Get(id)
	if !ok || !n.HasValue() {
		return nil, nil
	}

	return n.Value(), nil
}

// stored is the value of a node with the stamp it was written under.
type storedValue struct {
	value any
	stamp entity.Stamp
}

// lookupAll returns the value of every id whose node is retained, nil for
// the others. Unretained nodes are reclaimed after the read.
func (s *EntityStore) lookupAll(ctx context.Context, ids []entity.Identity) ([]storedValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err := s.barrier.RLock(ctx); err != nil {
		return nil, err
	}

	found := make([]storedValue, len(ids))

	var unretained []entity.Identity

	for i, id := range ids {
		n, ok := s.table.Get(id)
		if !ok {
			continue
		}

		if !s.table.IsRetained(id) {
			unretained = append(unretained, id)

			continue
		}

		if n.HasValue() {
			found[i] = storedValue{value: n.Value(), stamp: n.Stamp()}
		}
	}

	s.barrier.RUnlock()

	if len(unretained) > 0 {
		s.sweep(ctx, unretained...)
	}

	return found, nil
}

// copyAny isolates a stored value from its readers.
func (s *EntityStore) copyAny(v any) any {
	if v == nil {
		return nil
	}

	if a, ok := v.(anchor); ok {
		return a.copyWith(s.copyAny)
	}

	src := reflect.ValueOf(v)
	dst := reflect.New(src.Type())

	if err := deepcopy.Copy(dst.Interface(), v); err != nil {
		s.log.Warnw("failed to copy value, sharing it instead", "type", src.Type().String(), "error", err)

		return v
	}

	return dst.Elem().Interface()
}

func copyOf[T any](s *EntityStore, v T) T {
	if !s.copyValues {
		return v
	}

	var dst T
	if err := deepcopy.Copy(&dst, &v); err != nil {
		s.log.Warnw("failed to copy value, sharing it instead", "type", fmt.Sprintf("%T", v), "error", err)

		return v
	}

	return dst
}

// castValue converts a stored value to T.
func castValue[T any](id entity.Identity, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T

		return zero, fmt.Errorf("%w: %s holds %T, read as %T", ErrTypeMismatch, id, v, zero)
	}

	return t, nil
}

func reportConfigError(s *EntityStore, operation string, err error) {
	var cfgErr *schema.ConfigError
	if !errors.As(err, &cfgErr) {
		return
	}

	metrics.IncErrorCount(metrics.ComponentStore, s.name)
	sentry.ReportConfigError(s.log, s.name, string(cfgErr.Type), cfgErr.Field, operation, err)
}
