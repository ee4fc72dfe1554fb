package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"voter-oracle/common"
	"voter-oracle/evidence"
	"voter-oracle/metrics"
)

var logger = log.New(os.Stdout, "[Telemetry-Decoder] ", log.LstdFlags|log.Lshortfile)

// TelemetryRecord представляет декодированную запись (используем общий тип)
type TelemetryRecord = common.TelemetryRecord

// DecodeError возвращается, если payload не разбирается ни в одной из грамматик
type DecodeError struct {
	Line       string
	Structured error
	Legacy     error
}

func (e *DecodeError) Error() string {
	if e.Structured == nil && e.Legacy == nil {
		return fmt.Sprintf("malformed state line %q", e.Line)
	}
	return fmt.Sprintf("undecodable state line %q: structured: %v; legacy: %v", e.Line, e.Structured, e.Legacy)
}

func (e *DecodeError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Structured, e.Legacy} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// markerStates содержит флаги канала для каждого маркера legacy формата.
// nil означает, что формат ничего не сообщает об этом флаге.
var markerStates = map[byte]struct {
	enabled     bool
	squelchOpen *bool
	active      *bool
}{
	'_': {true, boolPtr(false), boolPtr(false)}, // Включен, шумоподавитель закрыт
	':': {true, boolPtr(true), boolPtr(false)},  // Включен, шумоподавитель открыт
	'*': {true, boolPtr(true), boolPtr(true)},   // Включен, выбран вотером
	'#': {false, nil, nil},                      // Отключен
}

// minLegacyToken: токены короче этого значения обрывают разбор строки
const minLegacyToken = 4

func boolPtr(v bool) *bool {
	return &v
}

// DecodeLine разбирает одну полную строку потока state: "<timestamp> <token> <payload>"
func DecodeLine(line string) (*TelemetryRecord, error) {
	tsField, rest, ok := cutField(line)
	if !ok {
		return nil, &DecodeError{Line: line}
	}
	_, payload, ok := cutField(rest)
	if !ok {
		return nil, &DecodeError{Line: line}
	}

	ts, err := parseTimestamp(tsField)
	if err != nil {
		return nil, &DecodeError{Line: line, Structured: err, Legacy: err}
	}

	channels, structErr := parseStructured(payload)
	legacy := structErr != nil
	if legacy {
		var legacyErr error
		channels, legacyErr = parseLegacy(payload)
		if legacyErr != nil {
			return nil, &DecodeError{Line: line, Structured: structErr, Legacy: legacyErr}
		}
	}

	record := &TelemetryRecord{
		Time:     ts,
		Channels: make(map[string]common.ChannelState, len(channels)),
		Raw:      line,
	}
	for _, ch := range channels {
		if _, dup := record.Channels[ch.Name]; dup {
			dupErr := fmt.Errorf("duplicate channel %q", ch.Name)
			if legacy {
				return nil, &DecodeError{Line: line, Structured: structErr, Legacy: dupErr}
			}
			return nil, &DecodeError{Line: line, Structured: dupErr}
		}
		record.Channels[ch.Name] = ch
	}
	return record, nil
}

// Decode возвращает последнюю полную запись из содержимого потока state
func Decode(content []byte) (*TelemetryRecord, error) {
	line, err := evidence.LastCompleteLine(content)
	if err != nil {
		return nil, err
	}
	return DecodeLine(line)
}

// cutField отделяет первое поле, разделенное пробелами, от остатка строки
func cutField(s string) (string, string, bool) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], strings.TrimLeft(s[i:], " \t"), true
}

// parseTimestamp переводит epoch секунды с дробной частью во время
func parseTimestamp(field string) (time.Time, error) {
	secs, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", field)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))), nil
}

// parseStructured разбирает текущий формат: JSON массив объектов каналов
func parseStructured(payload string) ([]common.ChannelState, error) {
	var channels []common.ChannelState
	if err := json.Unmarshal([]byte(payload), &channels); err != nil {
		return nil, err
	}
	if channels == nil {
		return nil, errors.New("payload is not a channel array")
	}
	return channels, nil
}

// parseLegacy разбирает исторический формат: "remote1*+1000 remote2_+030".
// Строка без единого разобранного канала считается ошибкой.
func parseLegacy(payload string) ([]common.ChannelState, error) {
	var channels []common.ChannelState
	for _, token := range strings.Fields(payload) {
		// Короткий токен обрывает разбор оставшихся токенов строки
		if len(token) < minLegacyToken {
			if len(channels) == 0 {
				return nil, fmt.Errorf("token %q: too short for a channel", token)
			}
			break
		}
		ch, err := parseLegacyToken(token)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, errors.New("no channels in payload")
	}
	return channels, nil
}

// parseLegacyToken разбирает токен "<name><marker><sign><digits>"
func parseLegacyToken(token string) (common.ChannelState, error) {
	i := len(token)
	for i > 0 && token[i-1] >= '0' && token[i-1] <= '9' {
		i--
	}
	digits := token[i:]
	if digits == "" {
		return common.ChannelState{}, fmt.Errorf("token %q: missing signal level", token)
	}
	i--
	if i < 1 || (token[i] != '+' && token[i] != '-') {
		return common.ChannelState{}, fmt.Errorf("token %q: missing signal level sign", token)
	}
	marker := token[i-1]
	name := token[:i-1]

	state, exists := markerStates[marker]
	if !exists {
		return common.ChannelState{}, fmt.Errorf("token %q: unknown marker %q", token, marker)
	}
	if name == "" {
		return common.ChannelState{}, fmt.Errorf("token %q: missing channel name", token)
	}

	level, err := strconv.Atoi(digits)
	if err != nil {
		return common.ChannelState{}, fmt.Errorf("token %q: invalid signal level: %w", token, err)
	}

	return common.ChannelState{
		Name:        name,
		Enabled:     state.enabled,
		Active:      state.active,
		SquelchOpen: state.squelchOpen,
		SignalLevel: level,
	}, nil
}

// Decoder читает поток state и возвращает последнюю полную запись.
// Состояние между вызовами не хранится.
type Decoder struct {
	stream  evidence.Reader
	metrics *metrics.Metrics
}

// NewDecoder создает декодер для потока stream. m может быть nil.
func NewDecoder(stream evidence.Reader, m *metrics.Metrics) *Decoder {
	return &Decoder{stream: stream, metrics: m}
}

// Latest возвращает последнюю запись или false, если она недоступна.
// Ошибки только логируются и никогда не возвращаются вызывающему.
func (d *Decoder) Latest() (*TelemetryRecord, bool) {
	content, err := d.stream.Read()
	if err != nil {
		logger.Printf("Failed to read state stream: %v", err)
		return nil, false
	}

	record, err := Decode(content)
	if err != nil {
		if errors.Is(err, evidence.ErrEmpty) {
			return nil, false
		}
		d.metrics.IncDecodeFailure()
		logger.Printf("Failed to decode state: %v", err)
		return nil, false
	}
	return record, true
}
