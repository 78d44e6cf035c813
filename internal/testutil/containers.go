// Package testutil starts shared Testcontainers backends for integration
// tests. Each backend is started at most once per test binary and reused by
// every test that asks for it. Tests are skipped under -short or when Docker
// is unavailable.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// shared holds the outcome of starting one container.
type shared struct {
	once     sync.Once
	endpoint string
	err      error
}

func (s *shared) get(t *testing.T, name string, start func(ctx context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in -short mode", name)
	}

	s.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		// Testcontainers panics on some unsupported Docker setups.
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("starting %s testcontainer panicked: %v", name, r)
			}
		}()

		s.endpoint, s.err = start(ctx)
	})

	if s.err != nil {
		t.Skipf("skipping %s tests: %v", name, s.err)
	}
	return s.endpoint
}

var (
	postgres shared
	redis    shared
	mongo    shared
)

// GetPostgresDSN returns a pgx DSN for a shared PostgreSQL 16 container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	return postgres.get(t, "PostgreSQL", func(ctx context.Context) (string, error) {
		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					// Container is listening
					wait.ForListeningPort("5432/tcp"),
					// Postgres reports readiness in logs
					wait.ForLog("ready to accept connections"),
					// Actively verify SQL connectivity with a simple query using DSN built from mapped host:port
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://saksflyt:saksflyt@%s:%s/saksflyt_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "saksflyt",
				"POSTGRES_PASSWORD": "saksflyt",
				"POSTGRES_DB":       "saksflyt_test",
			}),
		)
		if err != nil {
			return "", fmt.Errorf("failed to start PostgreSQL testcontainer: %w", err)
		}

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return fmt.Sprintf("postgres://saksflyt:saksflyt@%s/saksflyt_test?sslmode=disable", endpoint), nil
	})
}

// GetRedisAddress returns host:port of a shared Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redis.get(t, "Redis", func(ctx context.Context) (string, error) {
		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			return "", fmt.Errorf("failed to start Redis testcontainer: %w", err)
		}

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return endpoint, nil
	})
}

// GetMongoURI returns the MongoDB URI for a shared Mongo container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongo.get(t, "MongoDB", func(ctx context.Context) (string, error) {
		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp").
					WithStartupTimeout(2*time.Minute),
			),
		)
		if err != nil {
			return "", fmt.Errorf("failed to start MongoDB testcontainer: %w", err)
		}

		host, err := mongoC.Host(ctx)
		if err != nil {
			_ = mongoC.Terminate(context.Background())
			return "", err
		}
		port, err := mongoC.MappedPort(ctx, "27017/tcp")
		if err != nil {
			_ = mongoC.Terminate(context.Background())
			return "", err
		}

		// Force IPv4 loopback to avoid [::1]:port problems.
		if host == "" || host == "localhost" || host == "::1" {
			host = "127.0.0.1"
		}
		return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), nil
	})
}
