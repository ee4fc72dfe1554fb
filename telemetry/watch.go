package telemetry

import (
	"sync"
	"time"
)

// Watcher периодически опрашивает декодер и отправляет каждую новую запись в канал
type Watcher struct {
	decoder  *Decoder
	interval time.Duration
	out      chan<- interface{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher создает наблюдателя за потоком state
func NewWatcher(decoder *Decoder, interval time.Duration, out chan<- interface{}) *Watcher {
	return &Watcher{
		decoder:  decoder,
		interval: interval,
		out:      out,
		stopChan: make(chan struct{}),
	}
}

// Start запускает горутину опроса
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop останавливает горутину опроса и ждет ее завершения
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	logger.Println("Starting state watcher")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-w.stopChan:
			logger.Println("State watcher stopped")
			return
		case <-ticker.C:
			record, ok := w.decoder.Latest()
			if !ok || record.Time.Equal(last) {
				continue
			}
			last = record.Time

			// Отправляем в канал телеметрии (неблокирующе)
			select {
			case w.out <- *record:
			default:
				logger.Printf("Warning: telemetry channel is full, dropping record at %s", record.Time.Format(time.RFC3339Nano))
			}
		}
	}
}
