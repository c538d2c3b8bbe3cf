//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoPort     = "1883"
	mosquittoConfPath = "/mosquitto/config/alarmpipe.conf"
	anonymousConf     = "listener 1883\nallow_anonymous true\n"
	brokerWait        = 10 * time.Second
)

// MosquittoContainer is a running Eclipse Mosquitto broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// MosquittoConfig holds options for NewMosquittoContainer.
type MosquittoConfig struct {
	// ImageTag defaults to "2.0".
	ImageTag string
}

// NewMosquittoContainer starts an anonymous broker and waits until a client
// can connect to it. A nil config uses the defaults.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if config != nil && config.ImageTag != "" {
		tag = config.ImageTag
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + tag,
		ExposedPorts: []string{mosquittoPort + "/tcp"},
		Cmd:          []string{"mosquitto", "-c", mosquittoConfPath},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(anonymousConf),
			ContainerFilePath: mosquittoConfPath,
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForListeningPort(mosquittoPort + "/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, mosquittoPort)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	mc := &MosquittoContainer{
		container: container,
		brokerURL: "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int())),
	}
	if err := mc.HealthCheck(ctx); err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return mc, nil
}

// GetBrokerURL returns the tcp:// URL of the broker.
func (c *MosquittoContainer) GetBrokerURL(t *testing.T) string {
	t.Helper()
	if c.brokerURL == "" {
		t.Fatal("broker URL is empty")
	}
	return c.brokerURL
}

// HealthCheck connects and disconnects a throwaway client.
func (c *MosquittoContainer) HealthCheck(ctx context.Context) error {
	client, err := c.CreateClient("healthcheck", func(o *paho.ClientOptions) { o.SetAutoReconnect(false) })
	if err != nil {
		return err
	}
	client.Disconnect(250)
	return ctx.Err()
}

// CreateClient returns a raw paho client connected to the broker. The caller
// disconnects it.
func (c *MosquittoContainer) CreateClient(clientID string, opts ...func(*paho.ClientOptions)) (paho.Client, error) {
	o := paho.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(brokerWait).
		SetCleanSession(true)
	for _, opt := range opts {
		opt(o)
	}

	client := paho.NewClient(o)
	tok := client.Connect()
	if !tok.WaitTimeout(brokerWait) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Terminate stops and removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
