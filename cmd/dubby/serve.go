package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby"
	"github.com/jonatasu/dubby/internal/api"
	"github.com/jonatasu/dubby/internal/config"
	"github.com/jonatasu/dubby/internal/database"
	"github.com/jonatasu/dubby/internal/ingest"
	"github.com/jonatasu/dubby/internal/jobs"
	"github.com/jonatasu/dubby/internal/media"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/mqttclient"
	"github.com/jonatasu/dubby/internal/pipeline"
	"github.com/jonatasu/dubby/internal/storage"
	"github.com/jonatasu/dubby/internal/transcribe"
	"github.com/jonatasu/dubby/internal/translate"
	"github.com/jonatasu/dubby/internal/tts"
	"github.com/jonatasu/dubby/internal/voice"
)

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// backends holds the processing stages chosen by configuration.
type backends struct {
	recognizer transcribe.Recognizer
	translator *translate.Service
	tts        tts.Synthesizer
	cloner     voice.Cloner
}

func buildBackends(cfg *config.Config, log zerolog.Logger) (backends, error) {
	recognizer, err := transcribe.New(transcribe.Options{
		Provider:        cfg.ASRProvider,
		WhisperURL:      cfg.WhisperURL,
		WhisperModel:    cfg.WhisperModel,
		WhisperTimeout:  cfg.WhisperTimeout,
		OpenAIKey:       cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIModel:     cfg.ASRModel,
		ElevenLabsKey:   cfg.ElevenLabsAPIKey,
		ElevenLabsModel: cfg.ASRModel,
	})
	if err != nil {
		return backends{}, err
	}

	var translationBackend translate.Backend
	switch strings.ToLower(cfg.TranslationBackend) {
	case "dictionary", "":
	case "llm", "openai":
		translationBackend = translate.NewLLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranslationModel)
	default:
		return backends{}, fmt.Errorf("unknown translation backend %q", cfg.TranslationBackend)
	}

	synth, err := tts.New(tts.Options{
		Backend:           cfg.TTSBackend,
		OpenAIKey:         cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		Model:             cfg.TTSModel,
		Voice:             cfg.TTSVoice,
		ElevenLabsKey:     cfg.ElevenLabsAPIKey,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
		ElevenLabsModel:   cfg.ElevenLabsModel,
		Timeout:           cfg.TTSTimeout,
	})
	if err != nil {
		return backends{}, err
	}

	cloner, err := voice.Select(voice.SelectOptions{
		Mode: cfg.VoiceCloneMode,
		Apply: voice.ApplyOptions{
			PitchStrength:   cfg.PitchStrength,
			FormantStrength: cfg.FormantStrength,
		},
		ModelsDir: cfg.OpenVoiceModelsDir,
		CLI:       cfg.OpenVoiceCLI,
	}, log)
	if err != nil {
		return backends{}, err
	}

	return backends{
		recognizer: recognizer,
		translator: translate.NewService(translationBackend, log),
		tts:        synth,
		cloner:     cloner,
	}, nil
}

// pipelineStats feeds scrape-time gauges.
type pipelineStats struct {
	registry *jobs.Registry
	pool     *pipeline.WorkerPool
	events   *ingest.EventBus
}

func (s pipelineStats) StateCounts() map[string]int {
	out := make(map[string]int)
	for state, n := range s.registry.Counts() {
		out[string(state)] = n
	}
	return out
}

func (s pipelineStats) QueueDepth() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.QueueDepth()
}

func (s pipelineStats) SSESubscriberCount() int { return s.events.SubscriberCount() }

func dbPool(db *database.DB) *pgxpool.Pool {
	if db == nil {
		return nil
	}
	return db.Pool
}

func serve(parent context.Context, cfg *config.Config) error {
	startTime := time.Now()
	if parent == nil {
		parent = context.Background()
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", version).Msg("dubby starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.UploadsDir, cfg.OutputsDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	registry := jobs.NewRegistry()
	counters, err := metrics.NewCounters(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	ffmpeg := media.New(cfg.FFmpegBinary)
	if !ffmpeg.Available() {
		log.Warn().Str("binary", ffmpeg.Binary()).Msg("ffmpeg not found; jobs will fail at extraction")
	}

	stages, err := buildBackends(cfg, log)
	if err != nil {
		return err
	}
	log.Info().
		Str("asr", stages.recognizer.Name()).
		Str("translation", stages.translator.Name()).
		Str("tts", stages.tts.Name()).
		Str("voice_clone", stages.cloner.Name()).
		Msg("processing backends selected")

	// Output backup (S3)
	backup, services, err := storage.New(ctx, cfg.S3, cfg.OutputsDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		return err
	}
	for _, svc := range services {
		svc.Start()
	}
	defer func() {
		for _, svc := range services {
			svc.Stop()
		}
	}()

	// Job archive (PostgreSQL)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(ctx, database.Options{
			URL: cfg.DatabaseURL,
			Log: log.With().Str("component", "database").Logger(),
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx, dubby.SchemaSQL); err != nil {
			return err
		}
	}

	events := ingest.NewEventBus(1024)

	popts := pipeline.Options{
		Registry:     registry,
		Metrics:      counters,
		Extractor:    ffmpeg,
		Recognizer:   stages.recognizer,
		Translator:   stages.translator,
		Synthesizer:  stages.tts,
		Muxer:        ffmpeg,
		Cloner:       stages.cloner,
		PublishEvent: events.PublishJobEvent,
		WorkDir:      cfg.WorkDir,
		OutputsDir:   cfg.OutputsDir,
		SampleRate:   cfg.SampleRate,
		Log:          log,
	}
	if db != nil {
		popts.Archive = db
	}
	if backup != nil {
		popts.Artifacts = backup
	}
	orchestrator, err := pipeline.New(popts)
	if err != nil {
		return err
	}

	var pool *pipeline.WorkerPool
	if cfg.PipelineWorkers > 0 {
		pool = pipeline.NewWorkerPool(pipeline.WorkerPoolOptions{
			Runner:    orchestrator,
			Workers:   cfg.PipelineWorkers,
			QueueSize: cfg.PipelineQueueSize,
			Log:       log,
		})
		pool.Start()
		defer pool.Stop()
	}

	prometheus.MustRegister(metrics.NewCollector(dbPool(db), pipelineStats{registry: registry, pool: pool, events: events}))

	opts := api.ServerOptions{
		Config:  cfg,
		Runner:  orchestrator,
		Events:  events,
		Media:   ffmpeg,
		Version: version,
		Backends: api.BackendInfo{
			ASRProvider: stages.recognizer.Name(),
			ASRModel:    stages.recognizer.Model(),
			Translation: stages.translator.Name(),
			TTS:         stages.tts.Name(),
			VoiceClone:  stages.cloner.Name(),
		},
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if db != nil {
		opts.Archive = db
	}
	if backup != nil {
		opts.Outputs = backup
	}

	// Intake: inbox directory, MQTT and AMQP all need the worker pool.
	defaults := ingest.Defaults{
		SrcLang:    cfg.DefaultSrcLang,
		DstLang:    cfg.DefaultDstLang,
		SearchDirs: []string{cfg.WatchDir, cfg.UploadsDir},
	}
	if pool != nil {
		opts.Queue = pool

		if cfg.WatchDir != "" {
			watcher := ingest.NewInboxWatcher(ingest.WatcherOptions{
				Dir:        cfg.WatchDir,
				Extensions: cfg.UploadExtensions(),
				Queue:      pool,
				Defaults:   defaults,
				Log:        log,
			})
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("start inbox watcher: %w", err)
			}
			defer watcher.Stop()
			opts.Watcher = watcher.Status
		}

		if cfg.MQTTBrokerURL != "" {
			connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			mqtt, err := mqttclient.Connect(connectCtx, mqttclient.Options{
				BrokerURL:         cfg.MQTTBrokerURL,
				ClientID:          cfg.MQTTClientID,
				Topics:            cfg.MQTTRequestTopic,
				Username:          cfg.MQTTUsername,
				Password:          cfg.MQTTPassword,
				AvailabilityTopic: cfg.MQTTAvailabilityTopic,
				Log:               log.With().Str("component", "mqtt").Logger(),
			})
			cancel()
			if err != nil {
				return fmt.Errorf("connect to mqtt broker: %w", err)
			}
			defer mqtt.Close()
			intake := ingest.NewMQTTIntake(ingest.MQTTIntakeOptions{
				Conn:        mqtt,
				StatusTopic: cfg.MQTTStatusTopic,
				Queue:       pool,
				Defaults:    defaults,
				Log:         log,
			})
			events.AddSink(intake.ForwardEvent)
			opts.MQTT = mqtt
		}

		if cfg.AMQPURL != "" {
			consumer := ingest.NewAMQPConsumer(ingest.AMQPOptions{
				URL:      cfg.AMQPURL,
				Queue:    cfg.AMQPQueue,
				Jobs:     pool,
				Defaults: defaults,
				Log:      log,
			})
			if err := consumer.Start(); err != nil {
				return err
			}
			defer consumer.Stop()
			opts.AMQP = consumer
		}
	} else if cfg.WatchDir != "" || cfg.MQTTBrokerURL != "" || cfg.AMQPURL != "" {
		log.Warn().Msg("PIPELINE_WORKERS is 0; inbox, MQTT and AMQP intake are disabled")
	}

	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 30s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("dubby stopped")
	return nil
}
