// Package config loads msgmeter settings from flags, config files and the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first candidate key present in settings. Keys
// from viper are lowercase, so each candidate is also tried lowercased.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// blank reports whether value is nil or a whitespace-only string. Config
// files and the environment use both to mean "not set".
func blank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asString(value any) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value any) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(value)
}

func asInt64(value any) (int64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return cast.ToInt64E(value)
}

func asFloat64(value any) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToFloat64E(value)
}

func asBool(value any) (bool, error) {
	if blank(value) {
		return false, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToBoolE(value)
}

// asDuration reads a duration. Bare numbers, quoted or not, are seconds;
// anything else goes through time.ParseDuration.
func asDuration(value any) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return secondsToDuration(secs), nil
		}
		return time.ParseDuration(v)
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return secondsToDuration(secs), nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// asStringSlice accepts a list or a single string. A single string is one
// element; it is not split on whitespace.
func asStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	return cast.ToStringSliceE(value)
}

// toStringKeyMap reads a nested config section with lowercase, trimmed keys.
func toStringKeyMap(value any) (map[string]any, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		out[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return out, nil
}
