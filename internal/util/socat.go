package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrSocatClosed is returned by CreatePair after Cleanup.
var ErrSocatClosed = errors.New("socat manager closed")

// SocatManager manages lifecycle of socat-created virtual serial pairs.
type SocatManager struct {
	log *slog.Logger

	mu     sync.Mutex
	cmds   []*exec.Cmd
	links  []string
	closed bool
}

// NewSocatManager initializes an empty manager.
func NewSocatManager(log *slog.Logger) *SocatManager {
	return &SocatManager{log: log.With(slog.String("component", "virt-serial"))}
}

// CreatePair starts a socat process that links two PTYs (bidirectional).
// Each end is reachable through the symlink path given.
func (m *SocatManager) CreatePair(left, right string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSocatClosed
	}

	cmd := exec.Command(
		"socat", "-d", "-d",
		fmt.Sprintf("pty,raw,echo=0,link=%s", left),
		fmt.Sprintf("pty,raw,echo=0,link=%s", right),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start socat: %w", err)
	}

	m.log.Info("started socat", slog.Int("pid", cmd.Process.Pid), slog.String("left", left), slog.String("right", right))
	m.cmds = append(m.cmds, cmd)
	m.links = append(m.links, left, right)
	return nil
}

// WaitLinks blocks until every PTY link exists or timeout elapses. socat
// creates the links some time after it starts.
func (m *SocatManager) WaitLinks(timeout time.Duration) error {
	m.mu.Lock()
	links := append([]string(nil), m.links...)
	m.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for _, path := range links {
		for {
			if _, err := os.Stat(path); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("virtual serial %s not ready after %v", path, timeout)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	return nil
}

// Cleanup stops all socat processes and removes created links.
func (m *SocatManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, cmd := range m.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}
	for _, path := range m.links {
		if _, err := os.Lstat(path); err == nil {
			_ = os.Remove(path)
		}
	}
	m.log.Info("cleanup complete", slog.Int("pairs", len(m.links)/2))
}
