package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	logx "alertbot/pkg/logx"
)

// fileStore keeps one <prefix>.<kind>.json file per state kind.
// Writes go through a temp file + rename so a crash mid-write never
// leaves a truncated blob behind.
type fileStore struct {
	log    logx.Logger
	prefix string

	mu sync.Mutex
}

var kindPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, prefix: prefix}, nil
}

func (s *fileStore) path(kind string) (string, error) {
	if !kindPattern.MatchString(kind) {
		return "", errors.New("invalid state kind: " + kind)
	}
	return s.prefix + "." + kind + ".json", nil
}

func (s *fileStore) Load(ctx context.Context, kind string) ([]byte, error) {
	_ = ctx
	p, err := s.path(kind)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *fileStore) Save(ctx context.Context, kind string, blob []byte) error {
	_ = ctx
	p, err := s.path(kind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *fileStore) Close() error { return nil }
