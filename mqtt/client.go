package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"

	"voter-oracle/common"
	"voter-oracle/control"
)

// Config представляет конфигурацию MQTT клиента
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`         // Включить MQTT мост
	ServeCommands  bool          `mapstructure:"serve_commands"`  // Выполнять входящие команды через docker compose
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (опционально, генерируется если пустой)
	Station        string        `mapstructure:"station"`         // Имя стенда в топиках
	DataTopic      string        `mapstructure:"data_topic"`      // Базовый топик для доказательств
	CommandTopic   string        `mapstructure:"command_topic"`   // Базовый топик для команд
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Интервал keep alive в секундах
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
	CommandTimeout time.Duration `mapstructure:"command_timeout"` // Таймаут ожидания ответа на команду
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`  // Автоматическое переподключение
}

// generateID генерирует случайный суффикс
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	return "voter-oracle-" + generateID()
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       generateClientID(),
		Station:        "lab",
		DataTopic:      "voter/evidence",
		CommandTopic:   "voter/control",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 90 * time.Second,
		AutoReconnect:  true,
	}
}

func (c Config) dataTopic(kind string) string {
	return fmt.Sprintf("%s/%s/%s", c.DataTopic, c.Station, kind)
}

func (c Config) requestTopic() string {
	return fmt.Sprintf("%s/%s/request", c.CommandTopic, c.Station)
}

func (c Config) responseTopic() string {
	return fmt.Sprintf("%s/%s/response", c.CommandTopic, c.Station)
}

// newClientOptions создает опции подключения, общие для моста и удаленного Facade
func newClientOptions(config Config, logger *log.Logger) *mqttLib.ClientOptions {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetKeepAlive(time.Duration(config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetAutoReconnect(config.AutoReconnect)

	// Устанавливаем аутентификацию если задана
	if config.Username != "" && config.Password != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
		logger.Println("MQTT authentication: ENABLED")
	} else {
		logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	opts.SetConnectionLostHandler(func(client mqttLib.Client, err error) {
		logger.Printf("Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqttLib.Client, opts *mqttLib.ClientOptions) {
		logger.Println("Attempting to reconnect to MQTT broker...")
	})
	return opts
}

// Client представляет MQTT мост на стороне стенда: публикует доказательства и выполняет входящие команды
type Client struct {
	config     Config
	mqttClient mqttLib.Client
	dataChan   <-chan interface{} // Канал с записями telemetry и результатами тона
	facade     control.Facade     // Исполнитель команд (может быть nil)
	stopChan   chan struct{}
	wg         sync.WaitGroup
	handlers   sync.WaitGroup
	logger     *log.Logger
}

// NewClient создает нового MQTT клиента
func NewClient(config Config, dataChan <-chan interface{}, facade control.Facade) *Client {
	return &Client{
		config:   config,
		dataChan: dataChan,
		facade:   facade,
		stopChan: make(chan struct{}),
		logger:   log.New(os.Stdout, "[MQTT-Client] ", log.LstdFlags|log.Lshortfile),
	}
}

// Start подключается к брокеру и запускает цикл публикации
func (c *Client) Start() error {
	c.logger.Printf("Starting MQTT client, broker: %s", c.config.Broker)

	opts := newClientOptions(c.config, c.logger)
	opts.SetOnConnectHandler(c.onConnectHandler)
	c.mqttClient = mqttLib.NewClient(opts)

	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.wg.Add(1)
	go c.publishLoop()

	c.logger.Println("MQTT client started successfully")
	return nil
}

// Stop останавливает MQTT клиента
func (c *Client) Stop() error {
	c.logger.Println("Stopping MQTT client...")

	close(c.stopChan)
	c.wg.Wait()
	c.handlers.Wait()

	if c.mqttClient != nil && c.mqttClient.IsConnected() {
		c.mqttClient.Disconnect(1000)
		c.logger.Println("MQTT client disconnected")
	}
	return nil
}

// onConnectHandler подписывается на команды при каждом (пере)подключении
func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Println("Connected to MQTT broker")

	if c.facade == nil {
		return
	}
	topic := c.config.requestTopic()
	if token := client.Subscribe(topic, c.config.QoS, c.onCommandReceived); token.Wait() && token.Error() != nil {
		c.logger.Printf("Failed to subscribe to command topic %s: %v", topic, token.Error())
		return
	}
	c.logger.Printf("Subscribed to command topic: %s", topic)
}

// onCommandReceived обрабатывает входящие команды. Команда выполняется в отдельной горутине,
// чтобы долгий Start не блокировал обработку сообщений paho.
func (c *Client) onCommandReceived(client mqttLib.Client, msg mqttLib.Message) {
	c.logger.Printf("Received command on topic: %s", msg.Topic())

	var cmd common.CommandMessage
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		c.logger.Printf("Failed to unmarshal command: %v", err)
		return
	}

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		c.logger.Printf("Processing command: %s %s (correlation_id: %s)", cmd.Verb, cmd.Channel, cmd.CorrelationID)

		response := common.CommandResponse{
			CorrelationID: cmd.CorrelationID,
			Status:        "success",
			Timestamp:     time.Now(),
		}
		if err := control.Dispatch(c.facade, cmd); err != nil {
			response.Status = "error"
			response.Error = err.Error()
		}

		if err := c.publishJSON(c.config.responseTopic(), response); err != nil {
			c.logger.Printf("Failed to publish command response: %v", err)
		}
	}()
}

// publishLoop публикует доказательства из dataChan
func (c *Client) publishLoop() {
	defer c.wg.Done()
	c.logger.Println("Starting evidence publish loop")

	for {
		select {
		case <-c.stopChan:
			c.logger.Println("Evidence publish loop stopped")
			return
		case data, ok := <-c.dataChan:
			if !ok {
				c.logger.Println("Evidence channel closed")
				return
			}

			topic, err := c.topicFor(data)
			if err != nil {
				c.logger.Printf("Failed to route evidence: %v", err)
				continue
			}
			if err := c.publishJSON(topic, data); err != nil {
				c.logger.Printf("Failed to publish evidence: %v", err)
			}
		}
	}
}

// topicFor выбирает топик по типу данных
func (c *Client) topicFor(data interface{}) (string, error) {
	switch data.(type) {
	case common.TelemetryRecord:
		return c.config.dataTopic("state"), nil
	case common.ToneReading:
		return c.config.dataTopic("tone"), nil
	}
	return "", fmt.Errorf("unsupported evidence type: %T", data)
}

// publishJSON сериализует v и публикует в topic
func (c *Client) publishJSON(topic string, v interface{}) error {
	if c.mqttClient == nil || !c.mqttClient.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := c.mqttClient.Publish(topic, c.config.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected возвращает true если клиент подключен к брокеру
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}
