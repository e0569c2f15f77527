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

package entity

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrStampTooOld is the sentinel wrapped by every *StampError.
var ErrStampTooOld = errors.New("stamp is not newer than the stored value")

// Stamp is an optional, totally ordered write token.
//
// The zero value is "no stamp": a write without a stamp is authoritative and
// is always applied. A stamped write is applied only when it is strictly
// greater than the stamp currently stored on the node.
type Stamp struct {
	value int64
	set   bool
}

// NoStamp is the unset stamp.
var NoStamp = Stamp{}

// StampOf returns a stamp carrying n.
func StampOf(n int64) Stamp {
	return Stamp{value: n, set: true}
}

// StampAt returns a stamp derived from t with nanosecond precision.
func StampAt(t time.Time) Stamp {
	return StampOf(t.UnixNano())
}

// IsSet reports whether the stamp carries a value.
func (s Stamp) IsSet() bool {
	return s.set
}

// Value returns the raw stamp value. It is 0 for NoStamp.
func (s Stamp) Value() int64 {
	return s.value
}

// After reports whether s is strictly newer than other.
// An unset other is older than any set stamp.
func (s Stamp) After(other Stamp) bool {
	if !s.set {
		return false
	}

	if !other.set {
		return true
	}

	return s.value > other.value
}

// Max returns the newer of the two stamps.
func (s Stamp) Max(other Stamp) Stamp {
	if other.After(s) {
		return other
	}

	return s
}

func (s Stamp) String() string {
	if !s.set {
		return "none"
	}

	return strconv.FormatInt(s.value, 10)
}

// Accepts reports whether a write carrying incoming may replace a value
// stored with s. Unset incoming stamps are always accepted.
func (s Stamp) Accepts(incoming Stamp) bool {
	if !incoming.set {
		return true
	}

	return incoming.After(s)
}

// StampError reports a write that was discarded because its stamp was not
// newer than the stored one. It is expected during normal operation
// (late network responses) and is never fatal.
type StampError struct {
	Identity Identity
	Current  Stamp
	Received Stamp
}

func (e *StampError) Error() string {
	return fmt.Sprintf("%s: received stamp %s, current stamp %s", e.Identity, e.Received, e.Current)
}

// Unwrap allows errors.Is(err, ErrStampTooOld).
func (e *StampError) Unwrap() error {
	return ErrStampTooOld
}
