// Package postgrescontainer runs a throwaway PostgreSQL in docker for
// integration tests.
package postgrescontainer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	image         = "postgres:16-alpine"
	containerName = "oasis-postgres-test"
	hostPort      = "55432"
	user          = "oasis"
	password      = "secret"
	dbName        = "oasis_test"
)

// ErrDockerUnavailable is returned by Setup when docker cannot be used.
var ErrDockerUnavailable = errors.New("postgrescontainer: docker unavailable")

var (
	mu       sync.Mutex
	started  bool
	setupErr error
)

// Addr returns host:port of the test instance.
func Addr() string { return "127.0.0.1:" + hostPort }

// DSN returns a lib/pq connection string for the test instance.
func DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, Addr(), dbName)
}

// Setup starts the container once per process.
func Setup() error {
	mu.Lock()
	defer mu.Unlock()
	if started || setupErr != nil {
		return setupErr
	}
	if err := ensureDocker(); err != nil {
		setupErr = err
		return err
	}
	_ = stopContainer()
	if err := runContainer(); err != nil {
		setupErr = err
		return err
	}
	if err := waitForPostgres(DSN(), 20*time.Second); err != nil {
		_ = stopContainer()
		setupErr = err
		return err
	}
	started = true
	return nil
}

// Teardown stops the container started by Setup.
func Teardown() error {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return setupErr
	}
	started = false
	return stopContainer()
}

func ensureDocker() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("%w: %w", ErrDockerUnavailable, err)
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrDockerUnavailable, err)
	}
	return nil
}

func runContainer() error {
	return runDocker(
		"run",
		"-d",
		"--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("%s:5432", hostPort),
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+password,
		"-e", "POSTGRES_DB="+dbName,
		image,
	)
}

func stopContainer() error {
	output, err := exec.Command("docker", "stop", containerName).CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, output)
	}
	return nil
}

func runDocker(args ...string) error {
	output, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w: %s", args[0], err, output)
	}
	return nil
}

func waitForPostgres(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		err := func() error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(ctx)
		}()
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("postgres container did not become ready in time")
}
