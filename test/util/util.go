// Package util starts disposable backing services for integration tests:
// PostgreSQL for the plan store, Redis for the diff cache and Mosquitto for
// the MQTT bridge. Each starter returns an address and a cleanup function.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresReadyTimeout  = 60 * time.Second
	RedisReadyTimeout     = 30 * time.Second
	MosquittoReadyTimeout = 5 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

// mosquittoConf allows anonymous clients on the default port.
const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`

// container starts req and returns host:port of the mapped port.
func container(ctx context.Context, req tc.ContainerRequest, port string) (string, func(), error) {
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }
	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	mapped, err := cont.MappedPort(ctx, nat.Port(port))
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return host + ":" + mapped.Port(), cleanup, nil
}

// StartPostgres returns a pgx DSN for a fresh "roster" database.
func StartPostgres(ctx context.Context) (string, func(), error) {
	addr, cleanup, err := container(ctx, tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "roster",
			"POSTGRES_PASSWORD": "roster",
			"POSTGRES_DB":       "roster",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(PostgresReadyTimeout),
	}, "5432")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("postgres://roster:roster@%s/roster?sslmode=disable", addr), cleanup, nil
}

// StartRedis returns the host:port of a fresh Redis server.
func StartRedis(ctx context.Context) (string, func(), error) {
	return container(ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(RedisReadyTimeout),
	}, "6379")
}

// StartMosquitto returns the tcp:// URL of a broker that accepts
// connections.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "mosquitto")
	if err != nil {
		return "", nil, err
	}
	conf := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(conf, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	addr, stop, err := container(ctx, tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      conf,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}, "1883")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		stop()
		_ = os.RemoveAll(dir)
	}
	broker := "tcp://" + addr

	wctx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := poll(wctx, func() error { return pingBroker(broker) }); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("broker %s not ready: %w", broker, err)
	}
	return broker, cleanup, nil
}

func pingBroker(broker string) error {
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("roster-ping"))
	t := cli.Connect()
	t.Wait()
	if err := t.Error(); err != nil {
		return err
	}
	cli.Disconnect(100)
	return nil
}

// WaitForMetric polls a Prometheus endpoint until its output contains
// substr.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	err := poll(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, metricsURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read metrics body: %w", err)
		}
		if !strings.Contains(string(body), substr) {
			return fmt.Errorf("metric %q not exposed yet", substr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("metric %q: %w", substr, err)
	}
	return nil
}

// poll calls try until it succeeds or ctx is done.
func poll(ctx context.Context, try func() error) error {
	for {
		err := try()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(pollInterval):
		}
	}
}
