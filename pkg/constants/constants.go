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

package constants

import "time"

const (
	// DefaultStoreName labels metrics and loggers of a store created without a name.
	DefaultStoreName = "default"

	// AmountReadersForStore is the semaphore weight of the store barrier. A
	// writer acquires all of it; each reader acquires one unit. The number only
	// needs to be "high enough" to never starve concurrent readers.
	AmountReadersForStore = 100

	// DefaultNodeTableShards is the number of independently locked partitions
	// of the node table.
	DefaultNodeTableShards = 16

	// DefaultDispatchQueueSize bounds the pending notification batches of the
	// queue dispatcher. Producers block once it is full.
	DefaultDispatchQueueSize = 1024

	// DispatcherShutdownTimeout bounds how long Close waits for queued
	// notifications to be delivered.
	DispatcherShutdownTimeout = 5 * time.Second
)

const (
	// AnchorType is the type tag of the synthetic anchor container nodes.
	// User types must not use it.
	AnchorType = "__anchor"
)

const (
	// DefaultAppVersion is the version of binaries built without ldflags.
	// Error reporting stays disabled for it.
	DefaultAppVersion = "0.0.0-dev"

	DefaultProductionEnvironment  = "production"
	DefaultDevelopmentEnvironment = "development"

	// ErrorReportDebounce is the minimum interval between two reports with
	// the same title.
	ErrorReportDebounce = 2 * time.Hour
)

const (
	// DefaultMetricsAddr is used by the demo when no address is configured.
	DefaultMetricsAddr = ":9102"

	// MetricsReadTimeout is the read timeout of the metrics HTTP server.
	MetricsReadTimeout = 5 * time.Second
)
