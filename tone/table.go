package tone

import (
	"fmt"
	"math"
	"sort"
)

// Table связывает канал с частотой его тестового тона
type Table map[string]float64

type entry struct {
	channel string
	freq    float64
}

func (t Table) sorted() []entry {
	entries := make([]entry, 0, len(t))
	for ch, f := range t {
		entries = append(entries, entry{ch, f})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].freq != entries[j].freq {
			return entries[i].freq < entries[j].freq
		}
		return entries[i].channel < entries[j].channel
	})
	return entries
}

// Validate проверяет, что таблица не пуста и частоты положительны
func (t Table) Validate() error {
	if len(t) == 0 {
		return &ConfigError{Reason: "tone table is empty"}
	}
	for ch, f := range t {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return &ConfigError{Reason: fmt.Sprintf("invalid tone %g Hz for channel %s", f, ch)}
		}
	}
	return nil
}

// Nearest возвращает ближайший тон к freq без порога.
// При равном расстоянии выбирается меньшая частота.
func (t Table) Nearest(freq float64) (string, float64, bool) {
	entries := t.sorted()
	if len(entries) == 0 {
		return "", 0, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if math.Abs(e.freq-freq) < math.Abs(best.freq-freq) {
			best = e
		}
	}
	return best.channel, best.freq, true
}

// ChannelOf возвращает канал, которому принадлежит тон freq
func (t Table) ChannelOf(freq float64) (string, bool) {
	for _, e := range t.sorted() {
		if e.freq == freq {
			return e.channel, true
		}
	}
	return "", false
}
