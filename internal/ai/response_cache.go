package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResponseCache memoizes parsed JSON responses on disk, one file per key.
// Entries never expire; only Clear removes them.
type ResponseCache struct {
	dir string
}

func NewResponseCache(dir string) (*ResponseCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create llm cache dir failed: %w", err)
	}
	return &ResponseCache{dir: dir}, nil
}

// Key hashes the model, the schema (with sorted keys) and the input text.
func (c *ResponseCache) Key(model string, schema map[string]any, input string) string {
	schemaJSON, _ := json.Marshal(schema)
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte("\n--schema--\n"))
	h.Write(schemaJSON)
	h.Write([]byte("\n--markdown--\n"))
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached object for key. Unreadable entries count as misses.
func (c *ResponseCache) Get(key string) (map[string]any, bool) {
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Put stores value under key.
func (c *ResponseCache) Put(key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal llm cache entry failed: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create llm cache entry failed: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write llm cache entry failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close llm cache entry failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit llm cache entry failed: %w", err)
	}
	return nil
}

// Clear removes every cached entry.
func (c *ResponseCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read llm cache dir failed: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove llm cache entry failed: %w", err)
		}
	}
	return nil
}

func (c *ResponseCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
