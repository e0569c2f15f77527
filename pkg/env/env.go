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

// Package env reads typed values from environment variables.
//
// Every getter follows the same rules: an unset variable yields the default
// unless required; an unparsable variable is an error only when required.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func get[T any](key string, required bool, defaultValue T, kind string, parse func(string) (T, error)) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return defaultValue, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	v, err := parse(raw)
	if err != nil {
		if required {
			return defaultValue, fmt.Errorf("environment variable %s must be %s: %w", key, kind, err)
		}

		return defaultValue, nil
	}

	return v, nil
}

// GetAsString returns the variable as is.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	return get(key, required, defaultValue, "a string", func(s string) (string, error) { return s, nil })
}

// GetAsInt parses the variable as a base-10 integer.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	return get(key, required, defaultValue, "an integer", strconv.Atoi)
}

// GetAsBool accepts true/false, 1/0, yes/no, y/n and on/off in any case.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	return get(key, required, defaultValue, "a boolean", parseBool)
}

// GetAsDuration parses the variable with time.ParseDuration.
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	return get(key, required, defaultValue, "a duration", time.ParseDuration)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized boolean %q", s)
	}
}
