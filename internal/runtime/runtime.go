// Package runtime launches specialist agents as Docker containers. Each
// container runs the agent binary, connects back to the gateway's bus, and
// binds the API/peer ports the directory assigned to it.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/mtzanidakis/maestros/internal/config"
	"github.com/mtzanidakis/maestros/internal/peers"
)

const (
	labelPrefix = "maestros"
	networkName = "maestros-net"
)

// Manager tracks the containers it started, keyed by specialist name.
type Manager struct {
	docker      *client.Client
	cfg         config.RuntimeConfig
	mu          sync.RWMutex
	active      map[string]*ContainerInfo
	networkName string
}

type ContainerInfo struct {
	ID         string    `json:"id"`
	Specialist string    `json:"specialist"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
}

// SpecialistOpts describes one agent container launch.
type SpecialistOpts struct {
	Name     string
	Endpoint peers.Endpoint
	NATSUrl  string
	Image    string
	Env      map[string]string // already secret-resolved
}

func NewManager(cfg config.RuntimeConfig) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Manager{
		docker: docker,
		cfg:    cfg,
		active: make(map[string]*ContainerInfo),
	}, nil
}

func (m *Manager) ensureNetwork(ctx context.Context) error {
	if m.networkName != "" {
		return nil
	}

	if _, err := m.docker.NetworkInspect(ctx, networkName, network.InspectOptions{}); err == nil {
		m.networkName = networkName
		return nil
	}

	if _, err := m.docker.NetworkCreate(ctx, networkName, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("create network %s: %w", networkName, err)
	}
	m.networkName = networkName
	slog.Info("created docker network", "network", networkName)
	return nil
}

// StartSpecialist launches an agent container. Starting an already-running
// specialist returns its existing container.
func (m *Manager) StartSpecialist(ctx context.Context, opts SpecialistOpts) (*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[opts.Name]; ok {
		return existing, nil
	}
	if m.cfg.MaxRunning > 0 && len(m.active) >= m.cfg.MaxRunning {
		return nil, fmt.Errorf("max containers (%d) reached", m.cfg.MaxRunning)
	}
	if err := m.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	containerName := fmt.Sprintf("maestros-agent-%s", opts.Name)

	// Remove any stale container with the same name
	stopTimeout := 5
	_ = m.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &stopTimeout})
	_ = m.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	env := []string{
		fmt.Sprintf("MAESTROS_AGENT_ID=%s", opts.Name),
		fmt.Sprintf("MAESTROS_API_PORT=%d", opts.Endpoint.APIPort),
		fmt.Sprintf("MAESTROS_PEER_PORT=%d", opts.Endpoint.PeerPort),
		fmt.Sprintf("NATS_URL=%s", opts.NATSUrl),
	}
	if tz := os.Getenv("TZ"); tz != "" {
		env = append(env, fmt.Sprintf("TZ=%s", tz))
	}
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	image := opts.Image
	if image == "" {
		image = m.cfg.Image
	}

	apiPort := nat.Port(strconv.Itoa(opts.Endpoint.APIPort) + "/tcp")
	peerPort := nat.Port(strconv.Itoa(opts.Endpoint.PeerPort) + "/tcp")

	containerCfg := &dockercontainer.Config{
		Image: image,
		Env:   env,
		Labels: map[string]string{
			labelPrefix + ".managed":    "true",
			labelPrefix + ".specialist": opts.Name,
		},
		ExposedPorts: nat.PortSet{apiPort: {}, peerPort: {}},
	}
	hostCfg := &dockercontainer.HostConfig{
		NetworkMode: dockercontainer.NetworkMode(m.networkName),
		PortBindings: nat.PortMap{
			apiPort:  []nat.PortBinding{{HostIP: opts.Endpoint.Host, HostPort: strconv.Itoa(opts.Endpoint.APIPort)}},
			peerPort: []nat.PortBinding{{HostIP: opts.Endpoint.Host, HostPort: strconv.Itoa(opts.Endpoint.PeerPort)}},
		},
	}

	resp, err := m.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := m.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	info := &ContainerInfo{
		ID:         resp.ID,
		Specialist: opts.Name,
		Name:       containerName,
		Status:     "running",
		StartedAt:  time.Now(),
	}
	m.active[opts.Name] = info

	slog.Info("specialist container started", "specialist", opts.Name,
		"container", resp.ID[:12], "api_port", opts.Endpoint.APIPort)
	return info, nil
}

// StopSpecialist stops and removes a specialist's container. Unknown names
// are a no-op.
func (m *Manager) StopSpecialist(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[name]
	if !ok {
		return nil
	}

	stopTimeout := 10
	if err := m.docker.ContainerStop(ctx, info.ID, dockercontainer.StopOptions{Timeout: &stopTimeout}); err != nil {
		slog.Warn("failed to stop container gracefully", "container", info.ID[:12], "error", err)
	}
	if err := m.docker.ContainerRemove(ctx, info.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", info.ID[:12], "error", err)
	}

	delete(m.active, name)
	slog.Info("specialist container stopped", "specialist", name)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		_ = m.StopSpecialist(ctx, name)
	}
}

func (m *Manager) ListRunning() []ContainerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ContainerInfo, 0, len(m.active))
	for _, info := range m.active {
		out = append(out, *info)
	}
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CleanupStale removes managed containers left over from a previous run.
func (m *Manager) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := m.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	m.mu.RLock()
	activeIDs := make(map[string]bool)
	for _, info := range m.active {
		activeIDs[info.ID] = true
	}
	m.mu.RUnlock()

	for _, c := range containers {
		if !activeIDs[c.ID] {
			slog.Info("cleaning up stale container", "container", c.ID[:12])
			_ = m.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
		}
	}
	return nil
}

func (m *Manager) BuildImage(ctx context.Context) error {
	return BuildAgentImage(ctx, m.docker, m.cfg.Image)
}
