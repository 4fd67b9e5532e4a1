// Package docker implements a provider for local Docker resources:
// images, containers, networks, and volumes. Containers, networks, and
// volumes cannot be mutated in place, so any change to them is a
// replacement.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
)

func init() {
	provider.RegisterFactory("docker", func() provider.Interface { return New() })
}

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "docker" }

func (p *Provider) Kinds() []schema.Kind {
	return []schema.Kind{
		{
			Name: "docker:Image",
			Attributes: map[string]schema.Attribute{
				"name":         {Required: true, ForceNew: true},
				"buildContext": {ForceNew: true},
				"dockerfile":   {ForceNew: true},
			},
			CanUpdate: false,
		},
		{
			Name: "docker:Container",
			Attributes: map[string]schema.Attribute{
				"name":        {Required: true, ForceNew: true},
				"image":       {Required: true, ForceNew: true},
				"command":     {ForceNew: true},
				"ports":       {ForceNew: true},
				"env":         {ForceNew: true},
				"networks":    {ForceNew: true},
				"volumes":     {ForceNew: true},
				"labels":      {ForceNew: true},
				"workingDir":  {ForceNew: true},
				"user":        {ForceNew: true},
				"restart":     {ForceNew: true},
				"healthcheck": {ForceNew: true},
			},
			CanUpdate: false,
		},
		{
			Name: "docker:Network",
			Attributes: map[string]schema.Attribute{
				"name":     {Required: true, ForceNew: true},
				"driver":   {ForceNew: true},
				"internal": {ForceNew: true},
				"labels":   {ForceNew: true},
			},
			CanUpdate: false,
		},
		{
			Name: "docker:Volume",
			Attributes: map[string]schema.Attribute{
				"name":   {Required: true, ForceNew: true},
				"driver": {ForceNew: true},
			},
			CanUpdate: false,
		},
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) Create(ctx context.Context, kind string, attrs map[string]any) (string, map[string]any, error) {
	switch kind {
	case "docker:Image":
		return p.createImage(ctx, attrs)
	case "docker:Container":
		return p.createContainer(ctx, attrs)
	case "docker:Network":
		return p.createNetwork(ctx, attrs)
	case "docker:Volume":
		return p.createVolume(ctx, attrs)
	}
	return "", nil, fmt.Errorf("unknown kind %q", kind)
}

func (p *Provider) Read(ctx context.Context, kind, id string) (map[string]any, error) {
	switch kind {
	case "docker:Image":
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
		if err != nil {
			return nil, mapNotFound(err)
		}
		return map[string]any{"id": inspect.ID}, nil
	case "docker:Container":
		inspect, err := p.client.ContainerInspect(ctx, id)
		if err != nil {
			return nil, mapNotFound(err)
		}
		return map[string]any{
			"id":    inspect.ID,
			"name":  strings.TrimPrefix(inspect.Name, "/"),
			"image": inspect.Config.Image,
		}, nil
	case "docker:Network":
		inspect, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			return nil, mapNotFound(err)
		}
		return map[string]any{
			"id":     inspect.ID,
			"name":   inspect.Name,
			"driver": inspect.Driver,
		}, nil
	case "docker:Volume":
		vol, err := p.client.VolumeInspect(ctx, id)
		if err != nil {
			return nil, mapNotFound(err)
		}
		return map[string]any{
			"name":   vol.Name,
			"driver": vol.Driver,
		}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func (p *Provider) Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("%s does not support in-place updates", kind)
}

func (p *Provider) Delete(ctx context.Context, kind, id string) error {
	switch kind {
	case "docker:Image":
		_, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true})
		return mapNotFound(err)
	case "docker:Container":
		stopTimeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
		return mapNotFound(p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
	case "docker:Network":
		return mapNotFound(p.client.NetworkRemove(ctx, id))
	case "docker:Volume":
		return mapNotFound(p.client.VolumeRemove(ctx, id, true))
	}
	return fmt.Errorf("unknown kind %q", kind)
}

type imageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}

func (p *Provider) createImage(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg imageConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	if cfg.BuildContext != "" {
		tar, err := archive.TarWithOptions(cfg.BuildContext, &archive.TarOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create build context tar: %w", err)
		}

		resp, err := p.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
			Tags:       []string{cfg.Name},
			Dockerfile: cfg.Dockerfile,
			Remove:     true,
		})
		if err != nil {
			return "", nil, fmt.Errorf("failed to build image: %w", err)
		}
		defer resp.Body.Close()
		// Drain build output to prevent blocking.
		io.Copy(io.Discard, resp.Body)
	} else {
		reader, err := p.client.ImagePull(ctx, cfg.Name, image.PullOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to pull image %s: %w", cfg.Name, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, cfg.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	return inspect.ID, map[string]any{"id": inspect.ID, "name": cfg.Name}, nil
}

type containerConfig struct {
	Name        string             `json:"name"`
	Image       string             `json:"image"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *healthcheckConfig `json:"healthcheck"`
}

type healthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

func (p *Provider) createContainer(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg containerConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	reader, err := p.client.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to pull image %s: %w", cfg.Image, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range cfg.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: hostPort,
		}}
	}

	var binds []string
	for _, v := range cfg.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				parts[0] = abs
				binds = append(binds, strings.Join(parts, ":"))
				continue
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(cfg.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(cfg.Networks[0])
	}
	if cfg.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(cfg.Restart),
		}
	}

	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Command,
		Env:        mapToEnvList(cfg.Env),
		Labels:     cfg.Labels,
		WorkingDir: cfg.WorkingDir,
		User:       cfg.User,
	}

	if cfg.Healthcheck != nil {
		test := cfg.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}
		interval, _ := time.ParseDuration(cfg.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(cfg.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(cfg.Healthcheck.StartPeriod)
		containerCfg.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     cfg.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		containerCfg,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		cfg.Name,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, nil, fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, map[string]any{"id": resp.ID, "name": cfg.Name}, nil
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

func (p *Provider) createNetwork(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg networkConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	resp, err := p.client.NetworkCreate(ctx, cfg.Name, types.NetworkCreate{
		Driver:   cfg.Driver,
		Internal: cfg.Internal,
		Labels:   cfg.Labels,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}

	return resp.ID, map[string]any{"id": resp.ID, "name": cfg.Name}, nil
}

type volumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

func (p *Provider) createVolume(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg volumeConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   cfg.Name,
		Driver: cfg.Driver,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return vol.Name, map[string]any{"name": vol.Name, "driver": vol.Driver}, nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// decode rebinds loosely typed attributes onto a concrete config struct.
func decode(attrs map[string]any, out any) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode attributes: %w", err)
	}
	return nil
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return provider.ErrNotFound
	}
	return err
}
