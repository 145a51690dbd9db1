package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MaxFileSize is the ceiling for the persisted configuration document.
const MaxFileSize = 1024

var (
	ErrNotFound     = errors.New("config file not found")
	ErrEmpty        = errors.New("config file is empty")
	ErrTooLarge     = errors.New("config file is too large")
	ErrMalformed    = errors.New("config file is malformed")
	ErrMissingField = errors.New("config key missing")
)

// MissingFieldError names the first required key absent from the document.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("config key %q missing", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

var requiredKeys = []string{
	"wifiSsid",
	"wifiPassword",
	"mqttEnable",
	"mqttHost",
	"mqttPort",
	"mqttUsername",
	"mqttPassword",
	"mqttPublishChannel",
	"mqttSubscribeChannel",
	"uuid",
}

// FileStore persists a Config as a single JSON file.
type FileStore struct {
	path  string
	newID func() string
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:  path,
		newID: func() string { return uuid.NewString() },
	}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the configuration file.
func (s *FileStore) Load() (Config, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%s: %w", s.path, ErrNotFound)
		}
		return Config{}, fmt.Errorf("stat config file '%s': %w", s.path, err)
	}
	if info.Size() == 0 {
		return Config{}, fmt.Errorf("%s: %w", s.path, ErrEmpty)
	}
	if info.Size() > MaxFileSize {
		return Config{}, fmt.Errorf("%s is %d bytes: %w", s.path, info.Size(), ErrTooLarge)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file '%s': %w", s.path, err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Config{}, fmt.Errorf("decode json: %v: %w", err, ErrMalformed)
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return Config{}, &MissingFieldError{Field: k}
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode json: %v: %w", err, ErrMalformed)
	}

	cfg.sanitize()
	return cfg, nil
}

// Save writes the full field set, generating the device UUID when it is empty.
func (s *FileStore) Save(cfg Config) error {
	cfg.sanitize()
	if cfg.UUID == "" {
		cfg.UUID = truncate(s.newID(), maxUUID)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(data) > MaxFileSize {
		return fmt.Errorf("encoded config is %d bytes: %w", len(data), ErrTooLarge)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("open config file for writing: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}
