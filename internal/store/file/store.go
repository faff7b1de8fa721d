package file

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/store"
)

const (
	entryVersion = 1
	entrySuffix  = ".json"
	tempPrefix   = ".tmp-"
)

// ErrInvalidKey is returned for keys that cannot be used as file names.
var ErrInvalidKey = errors.New("invalid key")

var _ store.Store = (*Store)(nil)

// entry is the on-disk form of a single key.
type entry struct {
	Version   int       `json:"version"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	Checksum  string    `json:"checksum"`
}

// Store keeps one file per key inside baseDir. Each Set writes a temp file
// and renames it over the previous one, so a key is always either the old or
// the new value, even with several processes sharing the directory.
type Store struct {
	baseDir string
}

// NewStore creates a new file store.
// If baseDir is empty, uses ~/.caseguard/state/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".caseguard", "state")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("file store initialized")

	return &Store{baseDir: baseDir}, nil
}

// Dir returns the directory holding the state files.
func (s *Store) Dir() string {
	return s.baseDir
}

// Get reads the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", fmt.Errorf("%w: %s: %v", store.ErrCorrupt, key, err)
	}

	if e.Key != key || e.Checksum != checksum(e.Key, e.Value) {
		log.Warn().Str("key", key).Msg("state file failed checksum")
		return "", fmt.Errorf("%w: %s: checksum mismatch", store.ErrCorrupt, key)
	}

	return e.Value, nil
}

// Set writes value under key atomically.
func (s *Store) Set(ctx context.Context, key, value string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry{
		Version:   entryVersion,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
		Checksum:  checksum(key, value),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

// Delete removes the files backing keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		path, err := s.pathFor(key)
		if err != nil {
			return err
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	return nil
}

func (s *Store) pathFor(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.baseDir, key+entrySuffix), nil
}

// keyFromPath maps a state file path back to its key, ignoring temp files.
func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entrySuffix) {
		return "", false
	}
	return strings.TrimSuffix(name, entrySuffix), true
}

// checksum is the base58 encoded CRC64-NVME of the key and value.
func checksum(key, value string) string {
	h := crc64nvme.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(value))

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return base58.Encode(sum[:])
}
