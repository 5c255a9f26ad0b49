// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: store-dsn, redis-password, kafka-username, kafka-password.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// Key file names.
const (
	StoreDSN      = "store-dsn"
	RedisPassword = "redis-password"
	KafkaUsername = "kafka-username"
	KafkaPassword = "kafka-password"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply copies secrets into config fields that are still empty and returns
// the names of the keys it used.
func Apply(cfg *types.Config, secrets map[string]string) []string {
	var used []string
	fill := func(dst *string, key string) {
		if v, ok := secrets[key]; ok && *dst == "" {
			*dst = v
			used = append(used, key)
		}
	}
	fill(&cfg.Store.DSN, StoreDSN)
	fill(&cfg.Lock.Password, RedisPassword)
	fill(&cfg.Events.SASLUsername, KafkaUsername)
	fill(&cfg.Events.SASLPassword, KafkaPassword)
	return used
}
