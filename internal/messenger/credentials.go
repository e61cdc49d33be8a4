package messenger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"edchat/internal/app/user"
)

// Credentials is what survives a restart: the bearer token and the user it belongs to.
type Credentials struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("missing token")
	}
	return c.User.Validate()
}

// CredentialStore persists Credentials. Load returns an error wrapping
// ErrNoSession when nothing usable is stored.
type CredentialStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// FileCredentialStore keeps Credentials as JSON in a single file.
type FileCredentialStore struct {
	path string
}

func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

func (s *FileCredentialStore) Load() (Credentials, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, ErrNoSession
		}
		return Credentials{}, fmt.Errorf("%w: read %s: %v", ErrNoSession, s.path, err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: malformed credentials: %v", ErrNoSession, err)
	}
	if err := creds.validate(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	return creds, nil
}

// Save writes creds atomically with owner-only permissions.
func (s *FileCredentialStore) Save(creds Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Clear removes the file. A missing file is not an error.
func (s *FileCredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
