package mqtt

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voter-oracle/common"
)

// MockMQTTClient для тестирования
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool      { return m.Called().Bool(0) }
func (m *MockMQTTClient) IsConnectionOpen() bool { return m.Called().Bool(0) }
func (m *MockMQTTClient) Connect() mqttLib.Token { return m.Called().Get(0).(mqttLib.Token) }
func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) mqttLib.Token {
	return m.Called(topic, qos, callback).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqttLib.MessageHandler) mqttLib.Token {
	return m.Called(filters, callback).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqttLib.Token {
	return m.Called(topics).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqttLib.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqttLib.ClientOptionsReader {
	return m.Called().Get(0).(mqttLib.ClientOptionsReader)
}

// doneToken представляет уже завершенный токен
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// mockMessage для MQTT
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

// MockFacade для тестирования выполнения команд
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

func testConfig() Config {
	config := DefaultConfig()
	config.Station = "bench1"
	config.CommandTimeout = time.Second
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Broker == "" {
		t.Error("Expected non-empty broker address")
	}

	if config.ClientID == "" {
		t.Error("Expected non-empty client ID")
	}

	if config.QoS > 2 {
		t.Errorf("Expected QoS between 0 and 2, got %d", config.QoS)
	}

	assert.Equal(t, "voter/evidence/lab/tone", config.dataTopic("tone"))
	assert.Equal(t, "voter/control/lab/request", config.requestTopic())
	assert.Equal(t, "voter/control/lab/response", config.responseTopic())
}

func TestGenerateClientID(t *testing.T) {
	id1 := generateClientID()
	id2 := generateClientID()

	if id1 == id2 {
		t.Error("Expected unique client IDs")
	}

	if len(id1) != len("voter-oracle-")+8 {
		t.Errorf("Unexpected client ID length %d", len(id1))
	}
}

func TestTopicFor(t *testing.T) {
	client := NewClient(testConfig(), nil, nil)

	topic, err := client.topicFor(common.ToneReading{Tone: 300})
	require.NoError(t, err)
	assert.Equal(t, "voter/evidence/bench1/tone", topic)

	topic, err = client.topicFor(common.TelemetryRecord{})
	require.NoError(t, err)
	assert.Equal(t, "voter/evidence/bench1/state", topic)

	_, err = client.topicFor("unsupported string")
	assert.Error(t, err)
}

func TestPublishLoop(t *testing.T) {
	mockClient := new(MockMQTTClient)
	mockClient.On("IsConnected").Return(true)
	published := make(chan struct{}, 1)
	mockClient.On("Publish", "voter/evidence/bench1/tone", byte(1), false, mock.MatchedBy(func(payload []byte) bool {
		var reading common.ToneReading
		return json.Unmarshal(payload, &reading) == nil && reading.Channel == "remote2" && reading.Tone == 600
	})).Run(func(mock.Arguments) { published <- struct{}{} }).Return(doneToken{})

	dataChan := make(chan interface{}, 1)
	client := NewClient(testConfig(), dataChan, nil)
	client.mqttClient = mockClient

	client.wg.Add(1)
	go client.publishLoop()

	dataChan <- common.ToneReading{Peak: 593.75, Tone: 600, Channel: "remote2"}
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}

	close(client.stopChan)
	client.wg.Wait()
	mockClient.AssertCalled(t, "Publish", "voter/evidence/bench1/tone", byte(1), false, mock.Anything)
}

func TestPublishNotConnected(t *testing.T) {
	client := &Client{
		config: testConfig(),
		logger: log.New(os.Stdout, "[Test] ", log.LstdFlags),
	}

	err := client.publishJSON("topic", common.ToneReading{})
	assert.Error(t, err)
	assert.False(t, client.IsConnected())
}

func TestOnCommandReceived(t *testing.T) {
	facade := new(MockFacade)
	facade.On("SetSquelch", "remote1", true).Return(nil)
	facade.On("Disable", "remote2").Return(errors.New("voter busy"))

	var responses []common.CommandResponse
	mockClient := new(MockMQTTClient)
	mockClient.On("IsConnected").Return(true)
	mockClient.On("Publish", "voter/control/bench1/response", byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) {
			var response common.CommandResponse
			assert.NoError(t, json.Unmarshal(args.Get(3).([]byte), &response))
			responses = append(responses, response)
		}).Return(doneToken{})

	client := NewClient(testConfig(), nil, facade)
	client.mqttClient = mockClient

	send := func(cmd common.CommandMessage) {
		payload, err := json.Marshal(cmd)
		require.NoError(t, err)
		client.onCommandReceived(mockClient, &mockMessage{topic: "voter/control/bench1/request", payload: payload})
		client.handlers.Wait()
	}

	send(common.CommandMessage{Verb: "squelch", Channel: "remote1", Open: true, CorrelationID: "c1"})
	send(common.CommandMessage{Verb: "disable", Channel: "remote2", CorrelationID: "c2"})
	client.onCommandReceived(mockClient, &mockMessage{payload: []byte("not json")})
	client.handlers.Wait()

	require.Len(t, responses, 2)
	assert.Equal(t, "c1", responses[0].CorrelationID)
	assert.Equal(t, "success", responses[0].Status)
	assert.Equal(t, "c2", responses[1].CorrelationID)
	assert.Equal(t, "error", responses[1].Status)
	assert.Equal(t, "voter busy", responses[1].Error)
	facade.AssertExpectations(t)
}

func TestOnConnectSubscribesToCommands(t *testing.T) {
	mockClient := new(MockMQTTClient)
	mockClient.On("Subscribe", "voter/control/bench1/request", byte(1), mock.Anything).Return(doneToken{})

	client := NewClient(testConfig(), nil, new(MockFacade))
	client.onConnectHandler(mockClient)

	mockClient.AssertExpectations(t)
}

func TestRemoteFacadeRoundTrip(t *testing.T) {
	remote := NewRemoteFacade(testConfig())

	mockClient := new(MockMQTTClient)
	mockClient.On("IsConnected").Return(true)
	mockClient.On("Publish", "voter/control/bench1/request", byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) {
			var cmd common.CommandMessage
			assert.NoError(t, json.Unmarshal(args.Get(3).([]byte), &cmd))

			response := common.CommandResponse{CorrelationID: cmd.CorrelationID, Status: "success"}
			if cmd.Verb == "enable" {
				response.Status = "error"
				response.Error = "unknown channel"
			}
			payload, _ := json.Marshal(response)
			go remote.onResponse(mockClient, &mockMessage{payload: payload})
		}).Return(doneToken{})
	remote.mqttClient = mockClient

	assert.NoError(t, remote.SetSquelch("remote1", true))
	assert.ErrorContains(t, remote.Enable("remote9"), "unknown channel")
	assert.Empty(t, remote.pending)
}

func TestRemoteFacadeTimeout(t *testing.T) {
	config := testConfig()
	config.CommandTimeout = 20 * time.Millisecond
	remote := NewRemoteFacade(config)

	mockClient := new(MockMQTTClient)
	mockClient.On("IsConnected").Return(true)
	mockClient.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(doneToken{})
	remote.mqttClient = mockClient

	err := remote.Stop()
	assert.ErrorContains(t, err, "timeout")
}

func TestRemoteFacadeNotConnected(t *testing.T) {
	remote := NewRemoteFacade(testConfig())
	assert.Error(t, remote.Start())
}
