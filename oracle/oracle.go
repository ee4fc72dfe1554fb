// Package oracle предоставляет тестовому коду утверждения о состоянии вотера:
// ожидание состояния передатчика, флагов каналов и слышимого канала по тону.
package oracle

import (
	"log"
	"os"
	"strconv"
	"time"

	"voter-oracle/common"
	"voter-oracle/config"
	"voter-oracle/control"
	"voter-oracle/evidence"
	"voter-oracle/metrics"
	"voter-oracle/poll"
	"voter-oracle/telemetry"
	"voter-oracle/tone"
)

var logger = log.New(os.Stdout, "[Oracle] ", log.LstdFlags|log.Lshortfile)

// Oracle читает потоки доказательств и управляет окружением через Facade
type Oracle struct {
	facade  control.Facade
	decoder *telemetry.Decoder
	ptt     evidence.Reader
	audio   evidence.Reader
	tones   tone.Table
}

// New создает Oracle над заданными потоками
func New(facade control.Facade, state, ptt, audio evidence.Reader, tones tone.Table, m *metrics.Metrics) *Oracle {
	return &Oracle{
		facade:  facade,
		decoder: telemetry.NewDecoder(state, m),
		ptt:     ptt,
		audio:   audio,
		tones:   tones,
	}
}

// FromConfig создает Oracle над файловыми потоками из конфигурации
func FromConfig(cfg *config.Config, facade control.Facade, m *metrics.Metrics) *Oracle {
	return New(facade,
		evidence.NewFile(cfg.Streams.State),
		evidence.NewFile(cfg.Streams.PTT),
		evidence.NewFile(cfg.Streams.Audio),
		cfg.Tone.Tones, m)
}

// Facade возвращает управляющий интерфейс окружения
func (o *Oracle) Facade() control.Facade {
	return o.facade
}

// Setup запускает окружение
func (o *Oracle) Setup() error {
	return o.facade.Start()
}

// Teardown логирует последнее состояние и останавливает окружение
func (o *Oracle) Teardown() error {
	if record, ok := o.VoterState(); ok {
		logger.Printf("Final voter state: %s", record.Raw)
	}
	logger.Printf("Final ptt state: %s", o.PTT())
	return o.facade.Stop()
}

// VoterState возвращает последнюю полную запись вотера
func (o *Oracle) VoterState() (*common.TelemetryRecord, bool) {
	return o.decoder.Latest()
}

// PTT возвращает последнее известное состояние передатчика
func (o *Oracle) PTT() common.PTTState {
	content, err := o.ptt.Read()
	if err != nil {
		logger.Printf("Failed to read ptt stream: %v", err)
		return common.PTTUnknown
	}
	return evidence.ParsePTT(content)
}

// AudibleChannel возвращает канал, чей тон классификатор записал последним
func (o *Oracle) AudibleChannel() (string, bool) {
	content, err := o.audio.Read()
	if err != nil {
		logger.Printf("Failed to read audio stream: %v", err)
		return "", false
	}
	line, err := evidence.LastCompleteLine(content)
	if err != nil {
		return "", false
	}
	freq, err := strconv.ParseFloat(line, 64)
	if err != nil {
		logger.Printf("Malformed audio line %q: %v", line, err)
		return "", false
	}
	return o.tones.ChannelOf(freq)
}

// WaitForPTT ждет состояния передатчика: true означает включен
func (o *Oracle) WaitForPTT(on bool, timeout time.Duration) bool {
	target := common.PTTOff
	if on {
		target = common.PTTOn
	}
	return poll.Wait(o.PTT, target, timeout)
}

// WaitForChannelFlag ждет, пока флаг канала (enabled, active, sql_open) примет значение expected.
// Недоступная запись или отсутствующее поле считаются несовпадением.
func (o *Oracle) WaitForChannelFlag(channel, flag string, expected bool, timeout time.Duration) bool {
	return poll.Until(func() bool {
		record, ok := o.VoterState()
		if !ok {
			return false
		}
		state, ok := record.Channel(channel)
		if !ok {
			return false
		}
		value, present := state.Flag(flag)
		return present && value == expected
	}, timeout)
}

// WaitForChannelByTone ждет, пока в аудио не будет слышен тон канала
func (o *Oracle) WaitForChannelByTone(channel string, timeout time.Duration) bool {
	return poll.Wait(func() string {
		ch, _ := o.AudibleChannel()
		return ch
	}, channel, timeout)
}
