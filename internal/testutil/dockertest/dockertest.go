// Package dockertest drives throwaway containers for integration tests
// through the docker CLI. Each Container builds its image from one of the
// repository's test Dockerfiles, publishes a fixed host port, and polls a
// caller-supplied readiness check before handing control back to the tests.
package dockertest

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Container describes one disposable test container.
type Container struct {
	// Dockerfile is resolved relative to the repository root.
	Dockerfile string
	// Image doubles as the container name; one instance per repository.
	Image string
	// HostPort is published to ContainerPort inside the container.
	HostPort      string
	ContainerPort string
	// Ready checks the published address; it is polled until it returns
	// nil or ReadyTimeout elapses.
	Ready        func(addr string) error
	ReadyTimeout time.Duration

	mu      sync.Mutex
	running bool
	lastErr error
}

// Addr returns the published host address.
func (c *Container) Addr() string { return "127.0.0.1:" + c.HostPort }

// Start builds the image and launches the container, replacing any stale
// instance left over from an aborted run. Repeated calls are no-ops while
// the container is up; a failed Start is sticky until Stop.
func (c *Container) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	c.lastErr = c.launch()
	c.running = c.lastErr == nil
	return c.lastErr
}

// Stop removes the container and clears any sticky Start failure.
func (c *Container) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.lastErr = nil
	return c.remove()
}

func (c *Container) launch() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker executable not found: %w", err)
	}
	_ = c.remove()
	root := Root()
	if err := c.docker("build", "-f", filepath.Join(root, c.Dockerfile), "-t", c.Image, root); err != nil {
		return err
	}
	if err := c.docker("run", "-d", "--rm",
		"--name", c.Image,
		"-p", c.HostPort+":"+c.ContainerPort,
		c.Image,
	); err != nil {
		return err
	}
	return c.awaitReady()
}

func (c *Container) remove() error {
	out, err := exec.Command("docker", "stop", c.Image).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		return fmt.Errorf("docker stop %s: %w: %s", c.Image, err, out)
	}
	return nil
}

func (c *Container) docker(args ...string) error {
	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	return nil
}

func (c *Container) awaitReady() error {
	if c.Ready == nil {
		return nil
	}
	timeout := c.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = c.Ready(c.Addr()); lastErr == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr != nil {
		return fmt.Errorf("%s not ready after %s: %w", c.Image, timeout, lastErr)
	}
	return errors.New(c.Image + " not ready")
}

// Root locates the repository root, where the test Dockerfiles live.
func Root() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
}
