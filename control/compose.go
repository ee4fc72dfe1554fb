package control

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"voter-oracle/poll"
)

var logger = log.New(os.Stdout, "[Control-Compose] ", log.LstdFlags|log.Lshortfile)

// SideProcess описывает фоновый процесс внутри контейнера, наполняющий поток доказательств
type SideProcess struct {
	Service string `mapstructure:"service"`
	Command string `mapstructure:"command"`
}

// Config представляет конфигурацию docker compose окружения
type Config struct {
	ProjectDir         string        `mapstructure:"project_dir"`         // Каталог с docker-compose.yml
	Project            string        `mapstructure:"project"`             // Имя проекта compose для фильтра контейнеров (опционально)
	ComposeCommand     []string      `mapstructure:"compose_command"`     // Например ["docker", "compose"]
	VoterService       string        `mapstructure:"voter_service"`       // Сервис с вотером svxlink
	Channels           []string      `mapstructure:"channels"`            // Сервисы remote приемников
	ExpectedContainers int           `mapstructure:"expected_containers"` // Сколько контейнеров должно работать
	StartTimeout       time.Duration `mapstructure:"start_timeout"`       // Таймаут на запуск контейнеров
	SideProcesses      []SideProcess `mapstructure:"side_processes"`      // Форвардеры state/ptt и классификатор
	ExecTimeout        time.Duration `mapstructure:"exec_timeout"`        // Таймаут одной команды в контейнере
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ProjectDir:         ".",
		ComposeCommand:     []string{"docker", "compose"},
		VoterService:       "svxlink",
		Channels:           []string{"remote1", "remote2"},
		ExpectedContainers: 3,
		StartTimeout:       60 * time.Second,
		ExecTimeout:        30 * time.Second,
		SideProcesses: []SideProcess{
			{Service: "svxlink", Command: "cat /dev/shm/state > /state"},
			{Service: "svxlink", Command: "cat /dev/shm/ptt > /ptt"},
			{Service: "svxlink", Command: "voter-oracle > /log 2>&1"},
		},
	}
}

// Runner выполняет внешнюю команду в каталоге dir (docker compose up/down)
type Runner interface {
	Run(dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(dir, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Compose управляет окружением: up/down через docker compose, остальное через Docker Engine API
type Compose struct {
	config Config
	runner Runner

	mu        sync.Mutex
	engine    Engine
	engineErr error
}

// NewCompose создает Facade поверх docker compose. runner и engine могут быть nil:
// тогда используются os/exec и DockerEngine из переменных окружения.
func NewCompose(config Config, runner Runner, engine Engine) *Compose {
	if runner == nil {
		runner = execRunner{}
	}
	return &Compose{config: config, runner: runner, engine: engine}
}

// dockerEngine создает клиент Docker при первом обращении
func (c *Compose) dockerEngine() (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil && c.engineErr == nil {
		engine, err := NewDockerEngine(c.config.Project)
		if err != nil {
			c.engineErr = err
		} else {
			c.engine = engine
		}
	}
	return c.engine, c.engineErr
}

// execContext ограничивает одно обращение к Docker таймаутом exec_timeout (0 означает без таймаута)
func (c *Compose) execContext() (context.Context, context.CancelFunc) {
	if c.config.ExecTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.config.ExecTimeout)
}

func (c *Compose) compose(args ...string) ([]byte, error) {
	if len(c.config.ComposeCommand) == 0 {
		return nil, fmt.Errorf("compose command is not configured")
	}
	name := c.config.ComposeCommand[0]
	full := append(append([]string{}, c.config.ComposeCommand[1:]...), args...)
	return c.runner.Run(c.config.ProjectDir, name, full...)
}

// shell выполняет script через /bin/bash -c в контейнере сервиса.
// args передаются скрипту позиционно ($1, $2...) и не интерпретируются оболочкой.
func (c *Compose) shell(service, script string, detach bool, args ...string) error {
	engine, err := c.dockerEngine()
	if err != nil {
		return err
	}

	ctx, cancel := c.execContext()
	defer cancel()

	containers, err := engine.Running(ctx)
	if err != nil {
		return err
	}
	id, ok := findContainer(containers, service)
	if !ok {
		return fmt.Errorf("no running container for service %q", service)
	}

	cmd := append([]string{"/bin/bash", "-c", script, "_"}, args...)
	return engine.Exec(ctx, id, cmd, detach)
}

// findContainer ищет контейнер по имени или по имени сервиса compose
func findContainer(containers []Container, service string) (string, bool) {
	for _, c := range containers {
		if c.Name == service {
			return c.ID, true
		}
	}
	for _, c := range containers {
		if c.Service == service {
			return c.ID, true
		}
	}
	return "", false
}

// checkChannel отклоняет каналы, которых нет в конфигурации
func (c *Compose) checkChannel(channel string) error {
	if !slices.Contains(c.config.Channels, channel) {
		return fmt.Errorf("unknown channel %q", channel)
	}
	return nil
}

// Running возвращает число работающих контейнеров
func (c *Compose) Running() (int, error) {
	engine, err := c.dockerEngine()
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.execContext()
	defer cancel()

	containers, err := engine.Running(ctx)
	if err != nil {
		return 0, err
	}
	return len(containers), nil
}

// Start поднимает окружение, ждет контейнеры, запускает форвардеры и сбрасывает состояние каналов
func (c *Compose) Start() error {
	logger.Println("Starting instances")
	if running, err := c.Running(); err == nil && running > 0 {
		logger.Println("Instances already running, stopping them first")
		if err := c.Stop(); err != nil {
			return err
		}
	}

	if _, err := c.compose("up", "-d"); err != nil {
		return fmt.Errorf("failed to start instances: %w", err)
	}

	started := poll.Until(func() bool {
		running, err := c.Running()
		return err == nil && running >= c.config.ExpectedContainers
	}, c.config.StartTimeout)
	if !started {
		return fmt.Errorf("containers did not start within %v", c.config.StartTimeout)
	}

	if err := c.StartSideProcesses(); err != nil {
		return err
	}
	return c.Reset()
}

// Stop останавливает окружение
func (c *Compose) Stop() error {
	logger.Println("Stopping instances")
	if _, err := c.compose("down"); err != nil {
		return fmt.Errorf("failed to stop instances: %w", err)
	}
	return nil
}

// StartSideProcesses запускает процессы, наполняющие потоки state, ptt и audio
func (c *Compose) StartSideProcesses() error {
	for _, p := range c.config.SideProcesses {
		logger.Printf("Starting side process in %s: %s", p.Service, p.Command)
		if err := c.shell(p.Service, p.Command, true); err != nil {
			return fmt.Errorf("failed to start side process %q: %w", p.Command, err)
		}
	}
	return nil
}

// SetSquelch открывает или закрывает шумоподавитель remote приемника
func (c *Compose) SetSquelch(channel string, open bool) error {
	if err := c.checkChannel(channel); err != nil {
		return err
	}
	state := "Z"
	if open {
		state = "O"
	}
	logger.Printf("Setting squelch for %s to %s", channel, state)
	return c.shell(channel, `echo "$1" > /tmp/sql`, false, state)
}

// Enable включает канал в вотере
func (c *Compose) Enable(channel string) error {
	return c.voterCommand("ENABLE", channel)
}

// Disable отключает канал в вотере
func (c *Compose) Disable(channel string) error {
	return c.voterCommand("DISABLE", channel)
}

// Mute глушит канал в вотере
func (c *Compose) Mute(channel string) error {
	return c.voterCommand("MUTE", channel)
}

func (c *Compose) voterCommand(verb, channel string) error {
	if err := c.checkChannel(channel); err != nil {
		return err
	}
	logger.Printf("%s %s", verb, channel)
	return c.shell(c.config.VoterService, `echo "$1" "$2" > /dev/shm/voter`, false, verb, channel)
}

// Reset закрывает шумоподавители и включает все каналы
func (c *Compose) Reset() error {
	logger.Println("Resetting test environment")
	for _, ch := range c.config.Channels {
		if err := c.SetSquelch(ch, false); err != nil {
			return err
		}
	}
	for _, ch := range c.config.Channels {
		if err := c.Enable(ch); err != nil {
			return err
		}
	}
	return nil
}
