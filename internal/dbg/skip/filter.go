// Package skip decides which scripts are hidden from exception pausing.
//
// Patterns are doublestar globs matched against script paths. A pattern
// prefixed with "!" re-includes scripts matched by earlier patterns; the last
// matching pattern decides. Individual scripts can be toggled at runtime,
// which overrides the patterns for that script.
package skip

import (
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NodeInternals is the pattern prefix that matches node's builtin modules.
const NodeInternals = "<node_internals>"

type Filter struct {
	log zerolog.Logger

	mu       sync.RWMutex
	patterns []string
	toggled  map[string]bool
}

type Option func(*Filter)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Filter) { f.log = l }
}

func New(patterns []string, opts ...Option) (*Filter, error) {
	f := &Filter{
		log:     zerolog.Nop(),
		toggled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "!")) {
			return nil, errors.Errorf("invalid skip pattern %q", p)
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Patterns returns the configured patterns.
func (f *Filter) Patterns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.patterns...)
}

// IsSkipped reports whether the script at url is skipped.
func (f *Filter) IsSkipped(url string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.skippedLocked(url)
}

// Toggle flips the skip state of the script at url and returns the new state.
// A file URL and its path name the same script.
func (f *Filter) Toggle(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := scriptPath(url)
	skipped := !f.skippedLocked(url)
	if skipped == f.match(url) {
		delete(f.toggled, key)
	} else {
		f.toggled[key] = skipped
	}
	f.log.Debug().Str("url", url).Bool("skipped", skipped).Msg("toggled script skipping")
	return skipped
}

func (f *Filter) skippedLocked(url string) bool {
	if skipped, ok := f.toggled[scriptPath(url)]; ok {
		return skipped
	}
	return f.match(url)
}

func (f *Filter) match(url string) bool {
	if url == "" {
		return false
	}
	path := scriptPath(url)
	skipped := false
	for _, p := range f.patterns {
		pattern, negated := strings.CutPrefix(p, "!")
		ok, err := doublestar.Match(pattern, path)
		if err != nil || !ok {
			continue
		}
		skipped = !negated
	}
	return skipped
}

// scriptPath maps a script URL onto the namespace patterns are written in.
func scriptPath(url string) string {
	switch {
	case strings.HasPrefix(url, "file://"):
		return strings.TrimPrefix(url, "file://")
	case strings.HasPrefix(url, "node:"):
		return NodeInternals + "/" + strings.TrimPrefix(url, "node:")
	}
	return url
}
