package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voter-oracle/common"
)

// MockRunner для тестирования вызовов docker compose
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(dir, name string, args ...string) ([]byte, error) {
	a := m.Called(dir, name, args)
	out, _ := a.Get(0).([]byte)
	return out, a.Error(1)
}

// commands возвращает все выполненные команды в виде строк
func (m *MockRunner) commands() []string {
	var result []string
	for _, call := range m.Calls {
		result = append(result, strings.Join(call.Arguments.Get(2).([]string), " "))
	}
	return result
}

// MockEngine для тестирования обращений к Docker Engine API
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Running(ctx context.Context) ([]Container, error) {
	a := m.Called()
	containers, _ := a.Get(0).([]Container)
	return containers, a.Error(1)
}

func (m *MockEngine) Exec(ctx context.Context, containerID string, cmd []string, detach bool) error {
	return m.Called(containerID, cmd, detach).Error(0)
}

// execs возвращает выполненные в контейнерах команды: "<id> [-d] <cmd...>"
func (m *MockEngine) execs() []string {
	var result []string
	for _, call := range m.Calls {
		if call.Method != "Exec" {
			continue
		}
		parts := []string{call.Arguments.String(0)}
		if call.Arguments.Bool(2) {
			parts = append(parts, "-d")
		}
		parts = append(parts, call.Arguments.Get(1).([]string)...)
		result = append(result, strings.Join(parts, " "))
	}
	return result
}

// envContainers повторяет окружение: вотер по имени контейнера, remote1 по метке сервиса
var envContainers = []Container{
	{ID: "c-svx", Name: "svxlink", Service: "svxlink"},
	{ID: "c-r1", Name: "voter-remote1-1", Service: "remote1"},
	{ID: "c-r2", Name: "remote2", Service: "remote2"},
}

func TestComposeStart(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", ".", "docker", mock.Anything).Return([]byte(nil), nil)
	engine := new(MockEngine)
	engine.On("Running").Return([]Container(nil), nil).Once()
	engine.On("Running").Return(envContainers, nil)
	engine.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c := NewCompose(DefaultConfig(), runner, engine)
	require.NoError(t, c.Start())

	assert.Equal(t, []string{"compose up -d"}, runner.commands())
	assert.Equal(t, []string{
		"c-svx -d /bin/bash -c cat /dev/shm/state > /state _",
		"c-svx -d /bin/bash -c cat /dev/shm/ptt > /ptt _",
		"c-svx -d /bin/bash -c voter-oracle > /log 2>&1 _",
		`c-r1 /bin/bash -c echo "$1" > /tmp/sql _ Z`,
		`c-r2 /bin/bash -c echo "$1" > /tmp/sql _ Z`,
		`c-svx /bin/bash -c echo "$1" "$2" > /dev/shm/voter _ ENABLE remote1`,
		`c-svx /bin/bash -c echo "$1" "$2" > /dev/shm/voter _ ENABLE remote2`,
	}, engine.execs())
}

func TestComposeStartStopsRunningInstances(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", ".", "docker", mock.Anything).Return([]byte(nil), nil)
	engine := new(MockEngine)
	engine.On("Running").Return(envContainers, nil)
	engine.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c := NewCompose(DefaultConfig(), runner, engine)
	require.NoError(t, c.Start())

	assert.Equal(t, []string{"compose down", "compose up -d"}, runner.commands())
}

func TestComposeStartTimeout(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", ".", "docker", mock.Anything).Return([]byte(nil), nil)
	engine := new(MockEngine)
	engine.On("Running").Return([]Container(nil), nil).Once()
	engine.On("Running").Return(envContainers[:1], nil)

	config := DefaultConfig()
	config.StartTimeout = 30 * time.Millisecond
	c := NewCompose(config, runner, engine)

	err := c.Start()
	assert.ErrorContains(t, err, "did not start")
	engine.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestComposeChannelCommands(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", ".", "docker", mock.Anything).Return([]byte(nil), nil)
	engine := new(MockEngine)
	engine.On("Running").Return(envContainers, nil)
	engine.On("Exec", mock.Anything, mock.Anything, false).Return(nil)

	c := NewCompose(DefaultConfig(), runner, engine)
	require.NoError(t, c.SetSquelch("remote1", true))
	require.NoError(t, c.Disable("remote1"))
	require.NoError(t, c.Mute("remote2"))
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{
		`c-r1 /bin/bash -c echo "$1" > /tmp/sql _ O`,
		`c-svx /bin/bash -c echo "$1" "$2" > /dev/shm/voter _ DISABLE remote1`,
		`c-svx /bin/bash -c echo "$1" "$2" > /dev/shm/voter _ MUTE remote2`,
	}, engine.execs())
	assert.Equal(t, []string{"compose down"}, runner.commands())
}

func TestComposeRejectsUnknownChannels(t *testing.T) {
	engine := new(MockEngine)
	c := NewCompose(DefaultConfig(), new(MockRunner), engine)

	hostile := []string{
		"remote1; touch /tmp/pwned #",
		"$(reboot)",
		"svxlink",
		"",
	}
	for _, channel := range hostile {
		assert.ErrorContains(t, Dispatch(c, common.CommandMessage{Verb: VerbEnable, Channel: channel}), "channel")
		assert.ErrorContains(t, c.SetSquelch(channel, true), "channel")
		assert.ErrorContains(t, c.Mute(channel), "channel")
	}

	// До Docker дело не доходит
	assert.Empty(t, engine.Calls)
}

func TestComposeMissingContainer(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Running").Return(envContainers[:1], nil)

	c := NewCompose(DefaultConfig(), new(MockRunner), engine)
	assert.ErrorContains(t, c.SetSquelch("remote1", false), `no running container for service "remote1"`)
}

func TestComposeErrors(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", ".", "docker", mock.Anything).Return([]byte(nil), errors.New("exit status 1"))
	engine := new(MockEngine)
	engine.On("Running").Return(envContainers, nil)
	engine.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("exit code 1"))

	c := NewCompose(DefaultConfig(), runner, engine)
	assert.Error(t, c.Enable("remote1"))
	assert.Error(t, c.Stop())
}

// fakeDockerAPI отвечает на запросы Docker Engine API, которые делает DockerEngine
type fakeDockerAPI struct {
	mu      sync.Mutex
	filters string
	exec    map[string]interface{}
	started bool
}

func (f *fakeDockerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/containers/json"):
		f.filters = r.URL.Query().Get("filters")
		json.NewEncoder(w).Encode([]map[string]interface{}{{
			"Id":     "abc",
			"Names":  []string{"/voter-remote1-1"},
			"Labels": map[string]string{serviceLabel: "remote1"},
			"State":  "running",
		}})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/containers/abc/exec"):
		json.NewDecoder(r.Body).Decode(&f.exec)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"Id": "exec1"})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/exec/exec1/start"):
		f.started = true
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func TestDockerEngine(t *testing.T) {
	t.Setenv("DOCKER_HOST", "")
	t.Setenv("DOCKER_TLS_VERIFY", "")
	t.Setenv("DOCKER_CERT_PATH", "")
	t.Setenv("DOCKER_API_VERSION", "")

	api := &fakeDockerAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	engine, err := NewDockerEngine("voter",
		client.WithHost("tcp://"+srv.Listener.Addr().String()),
		client.WithVersion("1.47"))
	require.NoError(t, err)
	defer engine.Close()

	containers, err := engine.Running(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Container{{ID: "abc", Name: "voter-remote1-1", Service: "remote1"}}, containers)

	api.mu.Lock()
	assert.Contains(t, api.filters, `"running"`)
	assert.Contains(t, api.filters, projectLabel+"=voter")
	api.mu.Unlock()

	cmd := []string{"/bin/bash", "-c", "cat /dev/shm/ptt > /ptt", "_"}
	require.NoError(t, engine.Exec(context.Background(), "abc", cmd, true))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.True(t, api.started)
	assert.Equal(t, true, api.exec["Detach"])
	assert.Equal(t, []interface{}{"/bin/bash", "-c", "cat /dev/shm/ptt > /ptt", "_"}, api.exec["Cmd"])
}

// MockFacade для тестирования Dispatch
type MockFacade struct {
	mock.Mock
}

func (m *MockFacade) Start() error { return m.Called().Error(0) }
func (m *MockFacade) Stop() error  { return m.Called().Error(0) }
func (m *MockFacade) SetSquelch(channel string, open bool) error {
	return m.Called(channel, open).Error(0)
}
func (m *MockFacade) Enable(channel string) error  { return m.Called(channel).Error(0) }
func (m *MockFacade) Disable(channel string) error { return m.Called(channel).Error(0) }
func (m *MockFacade) Mute(channel string) error    { return m.Called(channel).Error(0) }
func (m *MockFacade) StartSideProcesses() error    { return m.Called().Error(0) }

func TestDispatch(t *testing.T) {
	facade := new(MockFacade)
	facade.On("Start").Return(nil)
	facade.On("SetSquelch", "remote1", true).Return(nil)
	facade.On("Enable", "remote2").Return(nil)
	facade.On("Disable", "remote2").Return(errors.New("boom"))

	assert.NoError(t, Dispatch(facade, common.CommandMessage{Verb: VerbStart}))
	assert.NoError(t, Dispatch(facade, common.CommandMessage{Verb: VerbSquelch, Channel: "remote1", Open: true}))
	assert.NoError(t, Dispatch(facade, common.CommandMessage{Verb: VerbEnable, Channel: "remote2"}))
	assert.EqualError(t, Dispatch(facade, common.CommandMessage{Verb: VerbDisable, Channel: "remote2"}), "boom")

	assert.Error(t, Dispatch(facade, common.CommandMessage{Verb: VerbEnable}))
	assert.Error(t, Dispatch(facade, common.CommandMessage{Verb: "reboot"}))

	facade.AssertExpectations(t)
}
