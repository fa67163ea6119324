// Package storage keeps rendered export artifacts on an afero filesystem.
// Each artifact has a JSON sidecar recording when it expires; expired
// artifacts are refused on Open and removed by Sweep.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"backoffice/pkg/platform/sentinel"
)

const metaSuffix = ".meta.json"

type meta struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	fs     afero.Fs
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(fsys afero.Fs, opts ...Option) *Store {
	s := &Store{fs: fsys, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes r under key and returns the reference Open accepts.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, ttl time.Duration) (string, error) {
	ref, err := clean(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("put %s: ttl must be positive", ref)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(path.Dir(ref), 0o755); err != nil {
		return "", fmt.Errorf("put %s: %w", ref, err)
	}

	f, err := s.fs.Create(ref)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", ref, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(ref)
		return "", fmt.Errorf("put %s: %w", ref, err)
	}

	now := s.now().UTC()
	data, err := json.Marshal(meta{Key: ref, Size: n, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", ref, err)
	}
	if err := afero.WriteFile(s.fs, ref+metaSuffix, data, 0o644); err != nil {
		_ = s.fs.Remove(ref)
		return "", fmt.Errorf("put %s: %w", ref, err)
	}
	return ref, nil
}

// Open returns sentinel.ErrNotFound for unknown references and
// sentinel.ErrExpired once the artifact's TTL has passed.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	ref, err := clean(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := s.readMeta(ref)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(m.ExpiresAt) {
		return nil, fmt.Errorf("open %s: %w", ref, sentinel.ErrExpired)
	}
	f, err := s.fs.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", ref, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes an artifact and its sidecar. Missing artifacts are not an error.
func (s *Store) Delete(_ context.Context, ref string) error {
	ref, err := clean(ref)
	if err != nil {
		return err
	}
	for _, p := range []string{ref, ref + metaSuffix} {
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

// Sweep removes every expired artifact and returns how many were removed.
// Sidecars that cannot be parsed are left alone.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := afero.Walk(s.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		m, err := s.readMeta(strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable artifact metadata", "path", p, "error", err)
			return nil
		}
		if !now.Before(m.ExpiresAt) {
			expired = append(expired, strings.TrimSuffix(p, metaSuffix))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	removed := 0
	for _, ref := range expired {
		if err := s.Delete(ctx, ref); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "artifact sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "expired artifacts removed", "count", n)
			}
		}
	}
}

func (s *Store) readMeta(ref string) (meta, error) {
	data, err := afero.ReadFile(s.fs, ref+metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta{}, fmt.Errorf("open %s: %w", ref, sentinel.ErrNotFound)
		}
		return meta{}, fmt.Errorf("open %s: %w", ref, err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, fmt.Errorf("decode metadata for %s: %w", ref, err)
	}
	return m, nil
}

// clean roots key at "/" so references cannot escape the filesystem.
func clean(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid artifact key %q: %w", key, sentinel.ErrNotFound)
	}
	p := path.Clean("/" + key)
	if p == "/" || strings.HasSuffix(p, metaSuffix) {
		return "", fmt.Errorf("invalid artifact key %q: %w", key, sentinel.ErrNotFound)
	}
	return p, nil
}
