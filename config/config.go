package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"voter-oracle/audio"
	"voter-oracle/control"
	"voter-oracle/mqtt"
	"voter-oracle/tone"
)

// Streams содержит пути к потокам доказательств
type Streams struct {
	State string `mapstructure:"state"`
	PTT   string `mapstructure:"ptt"`
	Audio string `mapstructure:"audio"`
}

// Config представляет полную конфигурацию
type Config struct {
	Streams Streams        `mapstructure:"streams"`
	Tone    tone.Config    `mapstructure:"tone"`
	Audio   audio.Config   `mapstructure:"audio"`
	MQTT    mqtt.Config    `mapstructure:"mqtt"`
	Control control.Config `mapstructure:"control"`
	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"metrics"`
	Oracle struct {
		WaitTime      time.Duration `mapstructure:"wait_time"`      // Таймаут ожидания по умолчанию
		WatchInterval time.Duration `mapstructure:"watch_interval"` // Период опроса потока state для MQTT
	} `mapstructure:"oracle"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults задает значения по умолчанию для всех ключей
func setDefaults(v *viper.Viper) {
	v.SetDefault("streams.state", "state")
	v.SetDefault("streams.ptt", "ptt")
	v.SetDefault("streams.audio", "audio")

	toneDefaults := tone.DefaultConfig()
	ranges := make([]map[string]interface{}, 0, len(toneDefaults.Ranges))
	for _, r := range toneDefaults.Ranges {
		ranges = append(ranges, map[string]interface{}{"start": r.Start, "end": r.End})
	}
	v.SetDefault("tone.sample_rate", toneDefaults.SampleRate)
	v.SetDefault("tone.window_size", toneDefaults.WindowSize)
	v.SetDefault("tone.ranges", ranges)
	v.SetDefault("tone.interval", toneDefaults.Interval)

	audioDefaults := audio.DefaultConfig()
	v.SetDefault("audio.listen_addr", audioDefaults.ListenAddr)
	v.SetDefault("audio.read_timeout", audioDefaults.ReadTimeout)

	mqttDefaults := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.serve_commands", false)
	v.SetDefault("mqtt.broker", mqttDefaults.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", mqttDefaults.ClientID)
	v.SetDefault("mqtt.station", mqttDefaults.Station)
	v.SetDefault("mqtt.data_topic", mqttDefaults.DataTopic)
	v.SetDefault("mqtt.command_topic", mqttDefaults.CommandTopic)
	v.SetDefault("mqtt.qos", mqttDefaults.QoS)
	v.SetDefault("mqtt.keep_alive", mqttDefaults.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mqttDefaults.ConnectTimeout)
	v.SetDefault("mqtt.command_timeout", mqttDefaults.CommandTimeout)
	v.SetDefault("mqtt.auto_reconnect", mqttDefaults.AutoReconnect)

	controlDefaults := control.DefaultConfig()
	sideProcesses := make([]map[string]interface{}, 0, len(controlDefaults.SideProcesses))
	for _, p := range controlDefaults.SideProcesses {
		sideProcesses = append(sideProcesses, map[string]interface{}{"service": p.Service, "command": p.Command})
	}
	v.SetDefault("control.project_dir", controlDefaults.ProjectDir)
	v.SetDefault("control.project", controlDefaults.Project)
	v.SetDefault("control.exec_timeout", controlDefaults.ExecTimeout)
	v.SetDefault("control.compose_command", controlDefaults.ComposeCommand)
	v.SetDefault("control.voter_service", controlDefaults.VoterService)
	v.SetDefault("control.channels", controlDefaults.Channels)
	v.SetDefault("control.expected_containers", controlDefaults.ExpectedContainers)
	v.SetDefault("control.start_timeout", controlDefaults.StartTimeout)
	v.SetDefault("control.side_processes", sideProcesses)

	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("oracle.wait_time", 5*time.Second)
	v.SetDefault("oracle.watch_interval", 200*time.Millisecond)
	v.SetDefault("logging.level", "info")
}

// Load читает конфигурацию из path или, если path пуст, из config.yaml в "." и /etc/voter-oracle.
// Отсутствующий файл не ошибка: используются значения по умолчанию и переменные окружения VOTER_*.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/voter-oracle")
	}
	v.SetEnvPrefix("VOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Таблица тонов не задается через SetDefault: viper объединил бы ее ключи с ключами из файла
	if len(config.Tone.Tones) == 0 {
		config.Tone.Tones = tone.DefaultConfig().Tones
	}
	config.Audio.WindowSize = config.Tone.WindowSize
	if strings.EqualFold(config.Logging.Level, "debug") {
		config.Tone.Debug = true
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate проверяет конфигурацию. Ошибки частотных диапазонов возвращаются как *tone.ConfigError.
func (c *Config) Validate() error {
	if _, err := c.Tone.Validate(); err != nil {
		return err
	}
	if c.Streams.State == "" || c.Streams.PTT == "" || c.Streams.Audio == "" {
		return errors.New("all evidence stream paths must be set")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d", c.MQTT.QoS)
	}
	return nil
}
