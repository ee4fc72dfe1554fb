package control

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// serviceLabel задает метку, которой docker compose помечает контейнеры сервиса
const serviceLabel = "com.docker.compose.service"

// projectLabel задает метку проекта docker compose
const projectLabel = "com.docker.compose.project"

// Container описывает работающий контейнер
type Container struct {
	ID      string
	Name    string
	Service string
}

// Engine выполняет операции с контейнерами через Docker Engine API
type Engine interface {
	Running(ctx context.Context) ([]Container, error)
	Exec(ctx context.Context, containerID string, cmd []string, detach bool) error
}

// DockerEngine реализует Engine поверх github.com/docker/docker/client
type DockerEngine struct {
	client  *client.Client
	project string
}

// NewDockerEngine подключается к демону по DOCKER_HOST и остальным переменным окружения.
// project ограничивает список контейнеров одним проектом compose (пустой означает все контейнеры).
func NewDockerEngine(project string, opts ...client.Opt) (*DockerEngine, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{client: cli, project: project}, nil
}

// Close закрывает соединение с демоном
func (e *DockerEngine) Close() error {
	return e.client.Close()
}

// Running возвращает работающие контейнеры
func (e *DockerEngine) Running(ctx context.Context) ([]Container, error) {
	args := filters.NewArgs(filters.Arg("status", "running"))
	if e.project != "" {
		args.Add("label", projectLabel+"="+e.project)
	}

	list, err := e.client.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]Container, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, Container{ID: c.ID, Name: name, Service: c.Labels[serviceLabel]})
	}
	return result, nil
}

// Exec выполняет cmd в контейнере. Без detach ждет завершения и проверяет код выхода.
func (e *DockerEngine) Exec(ctx context.Context, containerID string, cmd []string, detach bool) error {
	created, err := e.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Detach:       detach,
		AttachStdout: !detach,
		AttachStderr: !detach,
	})
	if err != nil {
		return fmt.Errorf("failed to create exec in %s: %w", containerID, err)
	}

	if detach {
		if err := e.client.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
			return fmt.Errorf("failed to start exec in %s: %w", containerID, err)
		}
		return nil
	}

	attached, err := e.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec in %s: %w", containerID, err)
	}
	defer attached.Close()

	// Поток закрывается, когда процесс завершился
	if _, err := io.Copy(io.Discard, attached.Reader); err != nil {
		return fmt.Errorf("failed to read exec output in %s: %w", containerID, err)
	}

	inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec in %s: %w", containerID, err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("command %q in %s exited with code %d", strings.Join(cmd, " "), containerID, inspect.ExitCode)
	}
	return nil
}
