package poll

import "time"

// Interval задает паузу между наблюдениями, чтобы не занимать ядро целиком
const Interval = 10 * time.Millisecond

// Wait вызывает observe, пока результат не станет равен target или не истечет timeout.
// Совпадение возвращает true сразу; false возвращается не раньше, чем через timeout.
// Время отсчитывается по монотонным часам от момента вызова.
func Wait[V comparable](observe func() V, target V, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if observe() == target {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(Interval, remaining))
	}
}

// Until ждет, пока cond не вернет true
func Until(cond func() bool, timeout time.Duration) bool {
	return Wait(cond, true, timeout)
}
