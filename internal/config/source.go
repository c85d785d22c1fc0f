package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "kioskd/pkg/logx"
)

// ReadFile decodes the config at path without keeping any state.
func ReadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, b)
}

// Validator rejects a candidate config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// Source is a config file that can be watched. Accepted versions are
// committed and then offered to every subscriber.
type Source struct {
	path     string
	settle   time.Duration
	log      logx.Logger
	validate Validator

	mu      sync.RWMutex
	current *Config
	digest  uint64

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan *Config
}

func NewSource(path string) *Source {
	return &Source{
		path:   path,
		settle: 250 * time.Millisecond,
		subs:   make(map[int]chan *Config),
	}
}

func (s *Source) Path() string { return s.path }

func (s *Source) SetLogger(log logx.Logger) { s.log = log }

// SetValidator must be called before Watch.
func (s *Source) SetValidator(v Validator) { s.validate = v }

// Load reads and commits the file without notifying subscribers.
func (s *Source) Load() (*Config, error) {
	cfg, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

// Current returns the last committed config, nil before Load.
func (s *Source) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Source) commit(cfg *Config, digest uint64) {
	s.mu.Lock()
	s.current, s.digest = cfg, digest
	s.mu.Unlock()
}

// Subscribe returns a channel of committed configs and a cancel func that
// closes it. A subscriber that falls behind only sees the newest version.
func (s *Source) Subscribe(buffer int) (<-chan *Config, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Source) broadcast(cfg *Config) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// full: evict the oldest pending version and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// refresh re-reads the file. It reports whether a new version was
// committed and broadcast.
func (s *Source) refresh(ctx context.Context) bool {
	log := s.log.With(logx.String("path", s.path))

	cfg, err := ReadFile(s.path)
	if err != nil {
		log.Warn("config read failed", logx.Err(err))
		return false
	}
	digest := hashConfig(cfg)

	s.mu.RLock()
	same := digest != 0 && digest == s.digest
	s.mu.RUnlock()
	if same {
		log.Debug("config content unchanged")
		return false
	}

	if s.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.validate(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return false
		}
	}

	s.commit(cfg, digest)
	s.broadcast(cfg)
	log.Info("config reloaded", logx.String("digest", fmt.Sprintf("%016x", digest)))
	return true
}

var errWatcherClosed = errors.New("config watcher closed")

// Watch follows the file's directory until ctx ends. Bursts of events are
// collapsed into one refresh after the settle delay. A broken watcher is
// reported as an error so the caller can restart it.
func (s *Source) Watch(ctx context.Context) error {
	dir, name := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	s.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(s.settle)
	if !settle.Stop() {
		<-settle.C
	}
	arm := func() {
		settle.Stop()
		settle.Reset(s.settle)
	}

	for {
		select {
		case <-ctx.Done():
			settle.Stop()
			return nil
		case <-settle.C:
			s.refresh(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				arm()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				s.log.Warn("config watch overflow, rereading", logx.Err(werr))
				arm()
				continue
			}
			s.log.Warn("config watch error", logx.Err(werr))
		}
	}
}
