package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoTokens is returned by TokenStore.Load when nothing is stored.
var ErrNoTokens = errors.New("client: no stored tokens")

// Tokens is the credential pair issued by login and refresh.
type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Empty reports whether no access token is present.
func (t Tokens) Empty() bool { return t.AccessToken == "" }

// TokenStore is the single source of truth for the current pair.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the pair in process memory.
type MemoryTokenStore struct {
	mu sync.RWMutex
	t  Tokens
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Load(context.Context) (Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.t.Empty() {
		return Tokens{}, ErrNoTokens
	}
	return s.t, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, t Tokens) error {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	s.t = Tokens{}
	s.mu.Unlock()
	return nil
}

// FileTokenStore persists the pair as JSON with owner-only permissions.
// Writes go through a temp file and rename so readers never see a torn file.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore { return &FileTokenStore{path: path} }

// DefaultTokenPath returns $XDG_CONFIG_HOME/tearoom/tokens.json or its OS equivalent.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tearoom", "tokens.json"), nil
}

func (s *FileTokenStore) Load(context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tokens{}, ErrNoTokens
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("client: read tokens: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, fmt.Errorf("client: decode tokens: %w", err)
	}
	if t.Empty() {
		return Tokens{}, ErrNoTokens
	}
	return t, nil
}

func (s *FileTokenStore) Save(_ context.Context, t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("client: token dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("client: token temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("client: clear tokens: %w", err)
	}
	return nil
}
