package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"

	"voter-oracle/common"
	"voter-oracle/control"
)

// RemoteFacade реализует control.Facade, отправляя команды мосту стенда через MQTT
type RemoteFacade struct {
	config     Config
	mqttClient mqttLib.Client
	mu         sync.Mutex
	pending    map[string]chan common.CommandResponse
	logger     *log.Logger
}

var _ control.Facade = (*RemoteFacade)(nil)

// NewRemoteFacade создает удаленный Facade
func NewRemoteFacade(config Config) *RemoteFacade {
	return &RemoteFacade{
		config:  config,
		pending: make(map[string]chan common.CommandResponse),
		logger:  log.New(os.Stdout, "[MQTT-Remote] ", log.LstdFlags|log.Lshortfile),
	}
}

// Connect подключается к брокеру и подписывается на ответы
func (r *RemoteFacade) Connect() error {
	opts := newClientOptions(r.config, r.logger)
	opts.SetOnConnectHandler(func(client mqttLib.Client) {
		topic := r.config.responseTopic()
		if token := client.Subscribe(topic, r.config.QoS, r.onResponse); token.Wait() && token.Error() != nil {
			r.logger.Printf("Failed to subscribe to response topic %s: %v", topic, token.Error())
		}
	})
	r.mqttClient = mqttLib.NewClient(opts)

	if token := r.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Close отключается от брокера
func (r *RemoteFacade) Close() {
	if r.mqttClient != nil && r.mqttClient.IsConnected() {
		r.mqttClient.Disconnect(1000)
	}
}

// onResponse передает ответ ожидающему вызову по correlation_id
func (r *RemoteFacade) onResponse(client mqttLib.Client, msg mqttLib.Message) {
	var response common.CommandResponse
	if err := json.Unmarshal(msg.Payload(), &response); err != nil {
		r.logger.Printf("Failed to unmarshal response: %v", err)
		return
	}

	r.mu.Lock()
	ch, ok := r.pending[response.CorrelationID]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- response:
	default:
	}
}

// send публикует команду и ждет ответа не дольше CommandTimeout
func (r *RemoteFacade) send(cmd common.CommandMessage) error {
	if r.mqttClient == nil || !r.mqttClient.IsConnected() {
		return errors.New("MQTT client not connected")
	}

	cmd.CorrelationID = generateID()
	ch := make(chan common.CommandResponse, 1)
	r.mu.Lock()
	r.pending[cmd.CorrelationID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, cmd.CorrelationID)
		r.mu.Unlock()
	}()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	token := r.mqttClient.Publish(r.config.requestTopic(), r.config.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish command %s: %w", cmd.Verb, token.Error())
	}

	select {
	case response := <-ch:
		if response.Status != "success" {
			return fmt.Errorf("command %s failed: %s", cmd.Verb, response.Error)
		}
		return nil
	case <-time.After(r.config.CommandTimeout):
		return fmt.Errorf("timeout waiting for response to %s (correlation_id: %s)", cmd.Verb, cmd.CorrelationID)
	}
}

func (r *RemoteFacade) Start() error {
	return r.send(common.CommandMessage{Verb: control.VerbStart})
}

func (r *RemoteFacade) Stop() error {
	return r.send(common.CommandMessage{Verb: control.VerbStop})
}

func (r *RemoteFacade) SetSquelch(channel string, open bool) error {
	return r.send(common.CommandMessage{Verb: control.VerbSquelch, Channel: channel, Open: open})
}

func (r *RemoteFacade) Enable(channel string) error {
	return r.send(common.CommandMessage{Verb: control.VerbEnable, Channel: channel})
}

func (r *RemoteFacade) Disable(channel string) error {
	return r.send(common.CommandMessage{Verb: control.VerbDisable, Channel: channel})
}

func (r *RemoteFacade) Mute(channel string) error {
	return r.send(common.CommandMessage{Verb: control.VerbMute, Channel: channel})
}

func (r *RemoteFacade) StartSideProcesses() error {
	return r.send(common.CommandMessage{Verb: control.VerbSideProcesses})
}
