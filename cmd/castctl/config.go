package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const envPrefix = "CASTCTL_"

func env(name string) string {
	return os.Getenv(envPrefix + name)
}

// keyValueFlag collects repeated id=value pairs.
type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected id=name", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("device id is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[key] = strings.TrimSpace(parts[1])
	return nil
}

func (kv *keyValueFlag) Type() string {
	return "id=name"
}

func (kv keyValueFlag) sortedKeys() []string {
	keys := make([]string, 0, len(kv))
	for key := range kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if raw := env(envKey); raw != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
