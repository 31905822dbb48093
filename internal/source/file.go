package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// FileConfig holds configuration for a file source.
type FileConfig struct {
	// Patterns is a list of file paths or glob patterns.
	Patterns []string
	// FromStart reports existing content too. By default only lines
	// appended after Start are reported.
	FromStart bool
}

// FileSource tails every file matched by its patterns through a
// tail.Registry, one session per file keyed by the absolute path.
type FileSource struct {
	config   FileConfig
	registry *tail.Registry
	observer *ChannelObserver

	errs    chan error
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once

	mu    sync.Mutex
	paths []string
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a new file source that runs its sessions on reg.
func NewFileSource(cfg FileConfig, reg *tail.Registry, opts ...ObserverOption) *FileSource {
	return &FileSource{
		config:   cfg,
		registry: reg,
		observer: NewChannelObserver(opts...),
		errs:     make(chan error, 32),
		stopped:  make(chan struct{}),
	}
}

// Lines returns the events of every tailed file.
func (fs *FileSource) Lines() <-chan Event {
	return fs.observer.Events()
}

// Errors returns the files that could not be tailed.
func (fs *FileSource) Errors() <-chan error {
	return fs.errs
}

// Paths returns the files that are being tailed.
func (fs *FileSource) Paths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.paths...)
}

// Start resolves glob patterns and begins tailing all matched files.
// Files that cannot be opened are reported on Errors; Start fails only
// when none can.
func (fs *FileSource) Start(ctx context.Context) error {
	paths, err := resolvePatterns(fs.config.Patterns)
	if err != nil {
		return fmt.Errorf("resolving file patterns: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matched patterns: %v", fs.config.Patterns)
	}

	var started []string
	for _, p := range paths {
		if err := fs.registry.Start(p, p, !fs.config.FromStart, fs.observer); err != nil {
			fs.sendError(fmt.Errorf("tailing %s: %w", p, err))
			continue
		}
		started = append(started, p)
	}
	if len(started) == 0 {
		fs.observer.Close()
		close(fs.errs)
		close(fs.stopped)
		return fmt.Errorf("none of %d matched files could be tailed", len(paths))
	}

	fs.mu.Lock()
	fs.paths = started
	fs.mu.Unlock()

	ctx, fs.cancel = context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		for _, p := range started {
			_ = fs.registry.Stop(p)
		}
		fs.observer.Close()
		close(fs.errs)
		close(fs.stopped)
	}()
	return nil
}

// Stop cancels tailing and waits until every session has ended.
func (fs *FileSource) Stop() error {
	fs.once.Do(func() {
		if fs.cancel != nil {
			fs.cancel()
		}
	})
	if fs.cancel == nil {
		// Never started, or Start failed and cleaned up already.
		return nil
	}
	<-fs.stopped
	return nil
}

// resolvePatterns expands glob patterns into unique absolute file paths.
func resolvePatterns(patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var result []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			// Treat as literal path.
			abs, err := filepath.Abs(pattern)
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("file not found: %s", abs)
			}
			if _, ok := seen[abs]; !ok {
				seen[abs] = struct{}{}
				result = append(result, abs)
			}
			continue
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(abs)
			if err != nil || info.IsDir() {
				continue
			}
			if _, ok := seen[abs]; !ok {
				seen[abs] = struct{}{}
				result = append(result, abs)
			}
		}
	}
	return result, nil
}

func (fs *FileSource) sendError(err error) {
	select {
	case fs.errs <- err:
	default:
	}
}
