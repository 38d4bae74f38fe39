// Package rediscontainer provides the throwaway Redis instance the redis
// package's integration tests run against.
package rediscontainer

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/khanakat/cachekit/internal/testutil/dockertest"
)

var container = &dockertest.Container{
	Dockerfile:    "Dockerfile.redis.test",
	Image:         "cachekit-redis-test",
	HostPort:      "6390",
	ContainerPort: "6379",
	Ready:         ping,
	ReadyTimeout:  5 * time.Second,
}

// Addr returns the host:port the test Redis listens on.
func Addr() string { return container.Addr() }

// Setup launches the Redis container and blocks until it answers PING.
func Setup() error { return container.Start() }

// Teardown stops the container launched by Setup.
func Teardown() error { return container.Stop() }

// ping runs one RESP PING/PONG exchange, the same protocol the repository
// under test speaks.
func ping(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.Contains(line, "PONG") {
		return fmt.Errorf("unexpected ping reply %q", strings.TrimSpace(line))
	}
	return nil
}
