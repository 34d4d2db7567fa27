package channel

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Creator is the OS primitive behind an Allocator.
type Creator interface {
	Create(path string) error
	Remove(path string) error
}

// FifoCreator creates named pipes with mkfifo(3).
type FifoCreator struct {
	// Mode defaults to 0600.
	Mode uint32
	// ReplaceStale removes a FIFO left at path by an earlier run before
	// creating it again. Regular files are never replaced.
	ReplaceStale bool
}

func (c FifoCreator) Create(path string) error {
	mode := c.Mode
	if mode == 0 {
		mode = 0o600
	}
	err := unix.Mkfifo(path, mode)
	if errors.Is(err, unix.EEXIST) && c.ReplaceStale {
		fi, statErr := os.Lstat(path)
		if statErr != nil {
			return err
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a fifo: %w", path, err)
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return rmErr
		}
		err = unix.Mkfifo(path, mode)
	}
	return err
}

func (c FifoCreator) Remove(path string) error {
	return os.Remove(path)
}

// DryRunCreator records the paths it is asked to create and touches nothing.
type DryRunCreator struct {
	mu    sync.Mutex
	paths []string
}

func (c *DryRunCreator) Create(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
	return nil
}

func (c *DryRunCreator) Remove(string) error { return nil }

// Paths returns every path passed to Create.
func (c *DryRunCreator) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}
