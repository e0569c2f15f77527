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

package store

import (
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// Diagnostics receives store events. Implementations must not call back into
// the store; events are emitted after the writer barrier was released but
// before notifications of the next write.
type Diagnostics interface {
	DidStore(id entity.Identity)
	DidFailToStore(id entity.Identity, err error)
	DidRegisterAlias(name string)
	DidUnregisterAlias(name string)
}

// NopDiagnostics discards every event.
type NopDiagnostics struct{}

func (NopDiagnostics) DidStore(entity.Identity)              {}
func (NopDiagnostics) DidFailToStore(entity.Identity, error) {}
func (NopDiagnostics) DidRegisterAlias(string)               {}
func (NopDiagnostics) DidUnregisterAlias(string)             {}

// ZapDiagnostics logs every event at debug level.
type ZapDiagnostics struct {
	log *zap.SugaredLogger
}

// NewZapDiagnostics returns diagnostics writing to log.
func NewZapDiagnostics(log *zap.SugaredLogger) *ZapDiagnostics {
	return &ZapDiagnostics{log: log}
}

func (d *ZapDiagnostics) DidStore(id entity.Identity) {
	d.log.Debugw("stored", "type", string(id.Type), "id", id.ID)
}

func (d *ZapDiagnostics) DidFailToStore(id entity.Identity, err error) {
	d.log.Debugw("failed to store", "type", string(id.Type), "id", id.ID, "error", err)
}

func (d *ZapDiagnostics) DidRegisterAlias(name string) {
	d.log.Debugw("registered alias", "alias", name)
}

func (d *ZapDiagnostics) DidUnregisterAlias(name string) {
	d.log.Debugw("unregistered alias", "alias", name)
}
