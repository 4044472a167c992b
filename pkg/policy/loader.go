package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of editor writes into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads execution policies from .rego and .json files.
//
// A .rego file becomes a policy named after the file; its leading comment
// block is the description and may carry a "# severity: <level>" line. A
// .json file holds a serialized Policy. Files are read in lexical path order
// and one unreadable file fails the whole load, so a half-read policy
// directory is never applied.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads the policies found under paths. Each path is a policy
// file or a directory searched recursively. Two files yielding the same
// policy name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var (
		policies []Policy
		sources  = make(map[string]string)
	)

	for _, path := range paths {
		loaded, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range loaded {
			src, _ := p.Metadata["source"].(string)
			if prev, dup := sources[p.Name]; dup {
				return nil, fmt.Errorf("policy %s is defined by both %s and %s", p.Name, prev, src)
			}
			sources[p.Name] = src
			policies = append(policies, p)
		}
	}

	l.logger.Info().
		Int("total", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return policies, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dirPath && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isPolicyFile(path) && !isHidden(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)

	policies := make([]Policy, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policy, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		policies = append(policies, *policy)
	}
	return policies, nil
}

func (l *Loader) loadFromFile(_ context.Context, filePath string) (*Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch filepath.Ext(filePath) {
	case ".rego":
		policy = l.parseRegoFile(filePath, data)
	case ".json":
		policy, err = l.parseJSONFile(filePath, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("Policy loaded from file")

	return policy, nil
}

func (l *Loader) parseRegoFile(filePath string, data []byte) *Policy {
	description, severity := l.extractHeader(string(data))
	now := time.Now()

	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
		Metadata:    map[string]interface{}{"source": filePath},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (l *Loader) parseJSONFile(filePath string, data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if strings.TrimSpace(policy.Rego) == "" {
		return nil, fmt.Errorf("policy %s has no rego source", policy.Name)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	policy.Builtin = false
	if policy.Metadata == nil {
		policy.Metadata = make(map[string]interface{})
	}
	policy.Metadata["source"] = filePath

	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
	return &policy, nil
}

// extractHeader reads the leading comment block of a Rego file.
func (l *Loader) extractHeader(content string) (string, Severity) {
	var description strings.Builder
	severity := SeverityError

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			switch s := Severity(strings.ToLower(strings.TrimSpace(v))); s {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				severity = s
			default:
				l.logger.Warn().Str("severity", string(s)).Msg("Unknown policy severity; using error")
			}
			continue
		}
		if comment != "" {
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(comment)
		}
	}

	return description.String(), severity
}

// Watch reloads the policies under paths after policy files change and
// hands them to apply. A reload that fails to read or apply keeps the
// previous policies and is logged. Watching ends when ctx is done or
// StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.IsDir() {
			// Editors replace files; watch the parent to see the new inode.
			path = filepath.Dir(path)
		}
		if err := addTree(watcher, path); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, apply)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer l.stopTimer()

	for {
		select {
		case <-ctx.Done():
			_ = l.StopWatching()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(info.Name()) {
					if err := addTree(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					l.scheduleReload(ctx, paths, apply)
					continue
				}
			}
			if !isPolicyFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")
			l.scheduleReload(ctx, paths, apply)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) scheduleReload(ctx context.Context, paths []string, apply func([]Policy) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(reloadDelay, func() {
		if err := l.reload(ctx, paths, apply); err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed; keeping current policies")
		}
	})
}

func (l *Loader) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Execution policies reloaded")
	return nil
}

// StopWatching stops watching for file changes. It is safe to call more
// than once.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
