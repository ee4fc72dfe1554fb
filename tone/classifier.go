package tone

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"voter-oracle/common"
	"voter-oracle/metrics"
)

var logger = log.New(os.Stdout, "[Tone-Classifier] ", log.LstdFlags|log.Lshortfile)

// Config представляет конфигурацию классификатора
type Config struct {
	SampleRate int           `mapstructure:"sample_rate"` // Частота дискретизации, Гц
	WindowSize int           `mapstructure:"window_size"` // Размер окна в сэмплах
	Ranges     []Range       `mapstructure:"ranges"`      // Диапазоны частот для Goertzel
	Tones      Table         `mapstructure:"tones"`       // Канал -> частота тона
	Interval   time.Duration `mapstructure:"interval"`    // Пауза между окнами
	Debug      bool          `mapstructure:"debug"`       // Логировать каждое окно
}

// DefaultConfig возвращает конфигурацию по умолчанию (два remote с тонами 300 и 600 Гц)
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		WindowSize: 1024,
		Ranges:     []Range{{Start: 200, End: 400}, {Start: 500, End: 700}},
		Tones:      Table{"remote1": 300, "remote2": 600},
		Interval:   100 * time.Millisecond,
	}
}

// Validate проверяет конфигурацию и возвращает план бинов
func (c Config) Validate() ([]int, error) {
	if err := c.Tones.Validate(); err != nil {
		return nil, err
	}
	if c.Interval < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("negative interval %v", c.Interval)}
	}
	return PlanBins(c.Ranges, c.SampleRate, c.WindowSize)
}

// Source отдает одно окно свежих сырых аудио данных
type Source interface {
	ReadWindow() ([]byte, error)
}

// Sink принимает строки для потока audio
type Sink interface {
	Append(line string) error
}

// Classifier непрерывно превращает аудио в идентификатор передающего канала
type Classifier struct {
	config   Config
	bins     []int
	source   Source
	sink     Sink
	metrics  *metrics.Metrics
	readings chan<- interface{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewClassifier создает классификатор. Неверная конфигурация возвращает *ConfigError до запуска цикла.
func NewClassifier(config Config, source Source, sink Sink, m *metrics.Metrics) (*Classifier, error) {
	bins, err := config.Validate()
	if err != nil {
		return nil, err
	}
	return &Classifier{
		config:   config,
		bins:     bins,
		source:   source,
		sink:     sink,
		metrics:  m,
		stopChan: make(chan struct{}),
	}, nil
}

// SetReadings задает канал, в который дополнительно отправляется каждый результат
func (c *Classifier) SetReadings(readings chan<- interface{}) {
	c.readings = readings
}

// Bins возвращает план DFT бинов
func (c *Classifier) Bins() []int {
	return c.bins
}

// Classify классифицирует одно окно сырых interleaved данных
func (c *Classifier) Classify(raw []byte) (common.ToneReading, error) {
	samples, err := Deinterleave(raw)
	if err != nil {
		return common.ToneReading{}, err
	}
	windowed := ApplyWindow(samples, c.config.WindowSize)

	peak, ok := Peak(Goertzel(windowed, c.config.SampleRate, c.bins))
	if !ok {
		return common.ToneReading{}, fmt.Errorf("no bins evaluated")
	}

	channel, tone, ok := c.config.Tones.Nearest(peak.Freq)
	if !ok {
		return common.ToneReading{}, fmt.Errorf("tone table is empty")
	}

	return common.ToneReading{
		Peak:    peak.Freq,
		Tone:    tone,
		Channel: channel,
		Time:    time.Now(),
	}, nil
}

// Start запускает цикл классификации в отдельной горутине
func (c *Classifier) Start() {
	logger.Printf("Starting classifier: %d Hz, window %d, %d bins", c.config.SampleRate, c.config.WindowSize, len(c.bins))
	c.wg.Add(1)
	go c.loop()
}

// Stop останавливает цикл и ждет завершения текущей итерации
func (c *Classifier) Stop() {
	logger.Println("Stopping classifier...")
	close(c.stopChan)
	c.wg.Wait()
	logger.Println("Classifier stopped")
}

func (c *Classifier) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if err := c.iterate(); err != nil {
			c.metrics.IncWindowError()
			logger.Printf("Window skipped: %v", err)
		}

		// Ограничение скорости
		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.Interval):
		}
	}
}

// iterate выполняет одну итерацию; паника внутри окна превращается в ошибку
func (c *Classifier) iterate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while classifying window: %v", r)
		}
	}()

	raw, err := c.source.ReadWindow()
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	if c.config.Debug {
		logger.Printf("Got %d bytes", len(raw))
	}

	started := time.Now()
	reading, err := c.Classify(raw)
	if err != nil {
		return fmt.Errorf("failed to classify window: %w", err)
	}
	elapsed := time.Since(started)

	if err := c.sink.Append(strconv.FormatFloat(reading.Tone, 'f', -1, 64)); err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	c.metrics.ObserveWindow(reading.Tone, elapsed.Seconds())

	if c.config.Debug {
		logger.Printf("Peak %.3f Hz -> %s (%g Hz)", reading.Peak, reading.Channel, reading.Tone)
	}

	if c.readings != nil {
		select {
		case c.readings <- reading:
		default:
			logger.Printf("Warning: readings channel is full, dropping reading for %s", reading.Channel)
		}
	}
	return nil
}
