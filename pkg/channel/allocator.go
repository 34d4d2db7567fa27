// Package channel allocates the named pipes that realise graph edges.
package channel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultDir is the relative directory FIFOs are created in.
const DefaultDir = "tmp"

// ValidateDir rejects directories that cannot appear in a command template:
// a '<' or '>' in a channel name would be read back as a slot token.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("fifo dir is empty")
	}
	if strings.ContainsAny(dir, "<>") {
		return fmt.Errorf("fifo dir %q must not contain '<' or '>'", dir)
	}
	return nil
}

// Key identifies an edge: output slot of OutputNode feeding input slot of
// InputNode.
type Key struct {
	InputNode  string
	InputSlot  string
	OutputNode string
	OutputSlot string
}

// ResourceCreationError is returned when the OS refuses to create a channel.
type ResourceCreationError struct {
	Path string
	Err  error
}

func (e *ResourceCreationError) Error() string {
	return fmt.Sprintf("create channel %s: %v", e.Path, e.Err)
}

func (e *ResourceCreationError) Unwrap() error { return e.Err }

// Allocator maps edge keys to channel names ("tmp/fifo0", "tmp/fifo1", …).
//
// A key always yields the same name for the lifetime of the allocator and the
// FIFO behind it is created at most once. Allocation is meant to be driven by
// one compile at a time; the mutex only makes Channels and Len safe to call
// from status readers.
type Allocator struct {
	dir     string
	creator Creator
	logger  *zap.Logger

	mu      sync.Mutex
	next    int
	byKey   map[Key]string
	created []string
}

// NewAllocator returns an allocator creating channels in dir through creator.
func NewAllocator(dir string, creator Creator, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		dir:     dir,
		creator: creator,
		logger:  logger,
		byKey:   make(map[Key]string),
	}
}

// Dir returns the directory channels are created in.
func (a *Allocator) Dir() string { return a.dir }

// GetOrCreate returns the channel for key, creating it on first use.
// Failed creations are not cached, so a later call retries with a new name.
func (a *Allocator) GetOrCreate(key Key) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name, ok := a.byKey[key]; ok {
		return name, nil
	}
	name, err := a.create()
	if err != nil {
		return "", err
	}
	a.byKey[key] = name
	return name, nil
}

// CreateAnonymous allocates a fresh channel that no key maps to.
func (a *Allocator) CreateAnonymous() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.create()
}

// create must be called with a.mu held. The counter advances even when the
// OS call fails so names are never reused.
func (a *Allocator) create() (string, error) {
	name := filepath.Join(a.dir, "fifo"+strconv.Itoa(a.next))
	a.next++
	if err := a.creator.Create(name); err != nil {
		a.logger.Error("mkfifo failed", zap.String("path", name), zap.Error(err))
		return "", &ResourceCreationError{Path: name, Err: err}
	}
	a.logger.Info("mkfifo", zap.String("path", name))
	a.created = append(a.created, name)
	return name, nil
}

// Release disposes of a channel. Removal is best-effort: failures are logged
// and otherwise ignored. Any key mapped to name is forgotten.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(name)
}

// ReleaseAll disposes of every channel this allocator created.
func (a *Allocator) ReleaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.created) > 0 {
		a.release(a.created[0])
	}
}

// ReleaseAnonymous disposes of every live channel no key maps to. Keyed
// channels survive so unchanged edges keep their FIFOs across runs.
func (a *Allocator) ReleaseAnonymous() {
	a.mu.Lock()
	defer a.mu.Unlock()
	keyed := make(map[string]bool, len(a.byKey))
	for _, name := range a.byKey {
		keyed[name] = true
	}
	for _, name := range append([]string(nil), a.created...) {
		if !keyed[name] {
			a.release(name)
		}
	}
}

func (a *Allocator) release(name string) {
	for k, v := range a.byKey {
		if v == name {
			delete(a.byKey, k)
		}
	}
	for i, c := range a.created {
		if c == name {
			a.created = append(a.created[:i], a.created[i+1:]...)
			break
		}
	}
	a.logger.Info("rm", zap.String("path", name))
	if err := a.creator.Remove(name); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("remove channel failed", zap.String("path", name), zap.Error(err))
	}
}

// Channels returns the live channel names in allocation order.
func (a *Allocator) Channels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.created))
	copy(out, a.created)
	return out
}

// Len returns the number of live channels.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.created)
}
