package common

import "time"

// ChannelState представляет состояние одного канала (remote) вотера.
// Active и SquelchOpen равны nil, если формат записи их не содержит
// (например, отключенный канал в legacy формате).
type ChannelState struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Active      *bool  `json:"active,omitempty"`
	SquelchOpen *bool  `json:"sql_open,omitempty"`
	SignalLevel int    `json:"siglev"`
	ID          string `json:"id,omitempty"`
}

// Flag возвращает значение булевого поля по его имени в telemetry
// ("enabled", "active", "sql_open"). Второе значение false, если поле отсутствует.
func (c ChannelState) Flag(name string) (bool, bool) {
	switch name {
	case FlagEnabled:
		return c.Enabled, true
	case FlagActive:
		if c.Active == nil {
			return false, false
		}
		return *c.Active, true
	case FlagSquelchOpen:
		if c.SquelchOpen == nil {
			return false, false
		}
		return *c.SquelchOpen, true
	}
	return false, false
}

// Имена флагов канала, как они называются в telemetry
const (
	FlagEnabled     = "enabled"
	FlagActive      = "active"
	FlagSquelchOpen = "sql_open"
)

// TelemetryRecord представляет последнюю полную запись из потока state
type TelemetryRecord struct {
	Time     time.Time               `json:"time"`
	Channels map[string]ChannelState `json:"channels"`
	Raw      string                  `json:"raw,omitempty"` // Сырая строка для отладки
}

// Channel возвращает состояние канала по имени
func (r *TelemetryRecord) Channel(name string) (ChannelState, bool) {
	if r == nil {
		return ChannelState{}, false
	}
	ch, ok := r.Channels[name]
	return ch, ok
}

// ToneReading представляет результат классификации одного аудио окна
type ToneReading struct {
	Peak    float64   `json:"peak"`    // Частота бина с максимальной мощностью, Гц
	Tone    float64   `json:"tone"`    // Ближайшая частота из таблицы тонов, Гц
	Channel string    `json:"channel"` // Канал, которому принадлежит тон
	Time    time.Time `json:"time"`
}

// PTTState представляет состояние передатчика
type PTTState int

const (
	PTTUnknown PTTState = iota
	PTTOn
	PTTOff
)

func (p PTTState) String() string {
	switch p {
	case PTTOn:
		return "on"
	case PTTOff:
		return "off"
	}
	return "unknown"
}

// CommandMessage представляет входящую управляющую команду
type CommandMessage struct {
	Verb          string `json:"verb"`           // start, stop, squelch, enable, disable, mute, side_processes
	Channel       string `json:"channel"`        // Имя канала (для канальных команд)
	Open          bool   `json:"open"`           // Состояние шумоподавителя для squelch
	CorrelationID string `json:"correlation_id"` // ID для сопоставления запроса и ответа
}

// CommandResponse представляет ответ на команду
type CommandResponse struct {
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`          // "success", "error"
	Error         string    `json:"error,omitempty"` // Описание ошибки если статус "error"
	Timestamp     time.Time `json:"timestamp"`
}
