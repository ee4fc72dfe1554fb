package tone

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Range представляет диапазон интересующих частот [Start, End], Гц
type Range struct {
	Start float64 `mapstructure:"start"`
	End   float64 `mapstructure:"end"`
}

// ConfigError возвращается при структурно неверной конфигурации классификатора
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "tone classifier configuration: " + e.Reason
}

// PlanBins вычисляет объединение DFT бинов для всех диапазонов.
// Границы включительные: floor(start/step) .. ceil(end/step), step = sampleRate/windowSize.
func PlanBins(ranges []Range, sampleRate, windowSize int) ([]int, error) {
	if sampleRate <= 0 || windowSize <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid sample rate %d or window size %d", sampleRate, windowSize)}
	}
	if len(ranges) == 0 {
		return nil, &ConfigError{Reason: "no frequency ranges configured"}
	}

	step := float64(sampleRate) / float64(windowSize)
	set := make(map[int]struct{})
	for _, r := range ranges {
		if r.Start < 0 || r.End < r.Start {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid range [%g, %g]", r.Start, r.End)}
		}
		kStart := int(math.Floor(r.Start / step))
		kEnd := int(math.Ceil(r.End / step))
		if kEnd > windowSize-1 {
			return nil, &ConfigError{Reason: fmt.Sprintf("frequency %g Hz out of range (bin %d > %d)", r.End, kEnd, windowSize-1)}
		}
		for k := kStart; k <= kEnd; k++ {
			set[k] = struct{}{}
		}
	}

	bins := make([]int, 0, len(set))
	for k := range set {
		bins = append(bins, k)
	}
	sort.Ints(bins)
	return bins, nil
}

// Deinterleave извлекает сэмплы канала 0 из 16 бит little-endian стерео потока.
// Неполный последний фрейм отбрасывается.
func Deinterleave(raw []byte) ([]int16, error) {
	frames := len(raw) / 4
	if frames == 0 {
		return nil, errors.New("audio buffer shorter than one frame")
	}
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*4:]))
	}
	return samples, nil
}

// Hamming возвращает окно Хэмминга длины n
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// ApplyWindow умножает сэмплы на окно Хэмминга длины len(samples) и
// возвращает ровно windowSize значений: лишние сэмплы отбрасываются, недостающие дополняются нулями справа.
func ApplyWindow(samples []int16, windowSize int) []float64 {
	if len(samples) > windowSize {
		samples = samples[:windowSize]
	}
	window := Hamming(len(samples))
	out := make([]float64, windowSize)
	for i, s := range samples {
		out[i] = float64(s) * window[i]
	}
	return out
}

// BinPower содержит мощность одного DFT бина
type BinPower struct {
	Bin   int
	Freq  float64
	Power float64
}

// Goertzel вычисляет мощность каждого бина из bins по всем N сэмплам
func Goertzel(samples []float64, sampleRate int, bins []int) []BinPower {
	n := len(samples)
	result := make([]BinPower, 0, len(bins))
	for _, k := range bins {
		w := 2 * math.Cos(2*math.Pi*float64(k)/float64(n))

		var d1, d2 float64
		for _, s := range samples {
			y := s + w*d1 - d2
			d2, d1 = d1, y
		}

		result = append(result, BinPower{
			Bin:   k,
			Freq:  float64(k) * float64(sampleRate) / float64(n),
			Power: d2*d2 + d1*d1 - w*d1*d2,
		})
	}
	return result
}

// Peak возвращает бин с максимальной мощностью среди всех бинов.
// При равенстве выигрывает первый (меньшая частота для отсортированных бинов).
func Peak(powers []BinPower) (BinPower, bool) {
	if len(powers) == 0 {
		return BinPower{}, false
	}
	best := powers[0]
	for _, p := range powers[1:] {
		if p.Power > best.Power {
			best = p
		}
	}
	return best, true
}
