// Package artifact stores the per-session image artifacts produced by the
// design pipeline. Each session owns one directory holding at most one file
// per role.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
)

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Store is a filesystem-backed artifact store rooted at a directory.
type Store struct {
	root         string
	publicPrefix string
	fallback     string
	ttl          time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	touched map[string]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPublicPrefix sets the URL prefix artifacts are served under.
func WithPublicPrefix(prefix string) Option {
	return func(s *Store) {
		s.publicPrefix = prefix
	}
}

// WithFallback sets the generic image used when a session has no final
// artifact.
func WithFallback(path string) Option {
	return func(s *Store) {
		s.fallback = path
	}
}

// WithTTL sets how long an idle session survives before Sweep evicts it.
// Zero disables eviction.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates the root directory if needed and returns a Store.
func New(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	s := &Store{
		root:         root,
		publicPrefix: "/uploads",
		logger:       slog.Default(),
		touched:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSession returns a fresh session id.
func NewSession() string {
	return uuid.NewString()
}

// ValidSession reports whether id is safe to use as a directory name.
func ValidSession(id string) bool {
	return sessionPattern.MatchString(id)
}

// Filename returns the file name used for a role slot.
func Filename(role domain.Role) string {
	return string(role) + ".png"
}

func (s *Store) check(session string, role domain.Role) error {
	if !ValidSession(session) {
		return domain.ErrValidation(fmt.Sprintf("invalid session id %q", session))
	}
	if !role.Valid() {
		return domain.ErrValidation(fmt.Sprintf("invalid artifact role %q", role))
	}
	return nil
}

// Path returns the fixed on-disk location of a role slot.
func (s *Store) Path(session string, role domain.Role) string {
	return filepath.Join(s.root, session, Filename(role))
}

// URL returns the public URL a role slot is served under.
func (s *Store) URL(session string, role domain.Role) string {
	return path.Join(s.publicPrefix, session, Filename(role))
}

// Put writes data to the role slot, replacing any previous artifact. The
// data is written to a temporary file and renamed into place.
func (s *Store) Put(ctx context.Context, session string, role domain.Role, data []byte) (domain.ArtifactRef, error) {
	if err := s.check(session, role); err != nil {
		return domain.ArtifactRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}

	dir := filepath.Join(s.root, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+string(role)+"-*.tmp")
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("close artifact: %w", err)
	}

	dest := s.Path(session, role)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("rename artifact: %w", err)
	}

	now := time.Now()
	s.touch(session, now)

	return domain.ArtifactRef{
		Session:  session,
		Role:     role,
		Path:     dest,
		URL:      s.URL(session, role),
		Filename: Filename(role),
		Size:     int64(len(data)),
		Written:  now,
	}, nil
}

// Get reads a role slot. It returns domain.ErrArtifactNotFound when the slot
// is empty.
func (s *Store) Get(ctx context.Context, session string, role domain.Role) ([]byte, error) {
	if err := s.check(session, role); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(session, role))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Stat returns a reference to an existing artifact.
func (s *Store) Stat(session string, role domain.Role) (domain.ArtifactRef, error) {
	if err := s.check(session, role); err != nil {
		return domain.ArtifactRef{}, err
	}
	p := s.Path(session, role)
	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return domain.ArtifactRef{}, domain.ErrArtifactNotFound
	}
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("stat artifact: %w", err)
	}
	return domain.ArtifactRef{
		Session:  session,
		Role:     role,
		Path:     p,
		URL:      s.URL(session, role),
		Filename: Filename(role),
		Size:     fi.Size(),
		Written:  fi.ModTime(),
	}, nil
}

// Open returns a reader for a role slot. The caller closes it.
func (s *Store) Open(session string, role domain.Role) (*os.File, error) {
	if err := s.check(session, role); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(session, role))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes a role slot. Deleting an absent artifact is not an error.
func (s *Store) Delete(ctx context.Context, session string, role domain.Role) error {
	if err := s.check(session, role); err != nil {
		return err
	}
	err := os.Remove(s.Path(session, role))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Release removes every artifact belonging to session.
func (s *Store) Release(ctx context.Context, session string) error {
	if !ValidSession(session) {
		return domain.ErrValidation(fmt.Sprintf("invalid session id %q", session))
	}
	if err := os.RemoveAll(filepath.Join(s.root, session)); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	s.mu.Lock()
	delete(s.touched, session)
	s.mu.Unlock()
	return nil
}

// Sweep evicts sessions whose most recent write is older than the TTL and
// returns how many were removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() || !ValidSession(e.Name()) {
			continue
		}
		last, ok := s.lastWrite(e.Name())
		if !ok {
			continue
		}
		if now.Sub(last) < s.ttl {
			continue
		}
		if err := s.Release(ctx, e.Name()); err != nil {
			s.logger.Warn("failed to evict session", "session", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// lastWrite prefers the in-process record and falls back to directory
// modification times for sessions written before a restart.
func (s *Store) lastWrite(session string) (time.Time, bool) {
	s.mu.Lock()
	t, ok := s.touched[session]
	s.mu.Unlock()
	if ok {
		return t, true
	}

	dir := filepath.Join(s.root, session)
	fi, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, false
	}
	last := fi.ModTime()
	files, err := os.ReadDir(dir)
	if err != nil {
		return last, true
	}
	for _, f := range files {
		if info, err := f.Info(); err == nil && info.ModTime().After(last) {
			last = info.ModTime()
		}
	}
	return last, true
}

func (s *Store) touch(session string, t time.Time) {
	s.mu.Lock()
	s.touched[session] = t
	s.mu.Unlock()
}

// Fallback reads the generic image used when a session has no final artifact.
func (s *Store) Fallback(ctx context.Context) ([]byte, error) {
	if s.fallback == "" {
		return nil, domain.ErrArtifactNotFound
	}
	f, err := os.Open(s.fallback)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open fallback image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read fallback image: %w", err)
	}
	return data, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}
