package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"voter-oracle/audio"
	"voter-oracle/config"
	"voter-oracle/control"
	"voter-oracle/evidence"
	"voter-oracle/metrics"
	"voter-oracle/mqtt"
	"voter-oracle/telemetry"
	"voter-oracle/tone"
)

var logger = log.New(os.Stdout, "[Voter-Oracle] ", log.LstdFlags|log.Lshortfile)

// evidenceBuffer задает емкость канала доказательств между классификатором, watcher и MQTT
const evidenceBuffer = 100

// app связывает компоненты демона классификатора
type app struct {
	config     *config.Config
	classifier *tone.Classifier
	watcher    *telemetry.Watcher
	mqttClient *mqtt.Client
	evidence   chan interface{}
	metricsSrv *http.Server
}

// newApp собирает компоненты по конфигурации. Ничего не запускает.
func newApp(cfg *config.Config, reg *prometheus.Registry) (*app, error) {
	m := metrics.New(reg)

	source := audio.NewUDPSource(cfg.Audio)
	sink := evidence.NewAppender(cfg.Streams.Audio)
	classifier, err := tone.NewClassifier(cfg.Tone, source, sink, m)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, classifier: classifier}

	if cfg.MQTT.Enabled {
		evidenceChan := make(chan interface{}, evidenceBuffer)
		a.evidence = evidenceChan

		decoder := telemetry.NewDecoder(evidence.NewFile(cfg.Streams.State), m)
		a.watcher = telemetry.NewWatcher(decoder, cfg.Oracle.WatchInterval, evidenceChan)

		var facade control.Facade
		if cfg.MQTT.ServeCommands {
			facade = control.NewCompose(cfg.Control, nil, nil)
		}
		a.mqttClient = mqtt.NewClient(cfg.MQTT, evidenceChan, facade)
	}

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		a.metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	}
	return a, nil
}

// start запускает компоненты. Ошибка MQTT не фатальна: классификатор продолжает писать в поток audio,
// а результаты тона в канал доказательств не отправляются.
func (a *app) start() {
	if a.metricsSrv != nil {
		go func() {
			logger.Printf("Metrics listening on %s", a.metricsSrv.Addr)
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Metrics server exited: %v", err)
			}
		}()
	}

	if a.mqttClient != nil {
		if err := a.mqttClient.Start(); err != nil {
			logger.Printf("MQTT bridge disabled: %v", err)
			a.mqttClient = nil
		} else {
			a.classifier.SetReadings(a.evidence)
			a.watcher.Start()
		}
	}

	a.classifier.Start()
}

// stop останавливает компоненты в обратном порядке
func (a *app) stop() {
	if a.mqttClient != nil {
		a.watcher.Stop()
		a.mqttClient.Stop()
	}
	a.classifier.Stop()

	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			logger.Printf("Metrics server shutdown error: %v", err)
		}
	}
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ./config.yaml or /etc/voter-oracle/config.yaml)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, reg)
	if err != nil {
		logger.Fatalf("Failed to create classifier: %v", err)
	}
	a.start()
	logger.Printf("Voter oracle started, listening for audio on %s. Press Ctrl+C to stop.", cfg.Audio.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Printf("Received signal %v, shutting down", sig)

	a.stop()
	logger.Println("Voter oracle stopped")
}
