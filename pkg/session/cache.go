package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cache persists a credential to a JSON file. Writes go through a
// temporary file and rename so a crash never leaves a half-written cache.
type Cache struct {
	path string
}

// NewCache creates a cache backed by the given file path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the cached credential. A missing file returns (nil, nil).
func (c *Cache) Load() (*Credential, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode session cache: %w", err)
	}
	return &cred, nil
}

// Save writes the credential to disk atomically. The file is created with
// 0600 permissions since it holds live cookies.
func (c *Cache) Save(cred *Credential) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session cache directory: %w", err)
	}

	tempPath := c.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cred); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

// Delete removes the cache file. Missing files are not an error.
func (c *Cache) Delete() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session cache: %w", err)
	}
	return nil
}

// Exists reports whether a cache file is present.
func (c *Cache) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}
