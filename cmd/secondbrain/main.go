package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"secondbrain/internal/assistant"
	"secondbrain/internal/bus"
	"secondbrain/internal/config"
	"secondbrain/internal/ipc"
	"secondbrain/internal/journal"
	"secondbrain/internal/observe"
	"secondbrain/internal/remote"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

var apiKeyVars = []string{"SECONDBRAIN_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"}

func main() {
	configPath := cli.StringP("config", "c", "", "Config file path (defaults are used when empty)")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address, overrides reasoning.proxy")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides log_level")
	cli.Parse()

	setupLogger(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *logLevel == "" {
		setupLogger(string(cfg.LogLevel))
	}
	if *proxyAddr != "" {
		cfg.Reasoning.Proxy = *proxyAddr
	}

	log.Info("Booting up")

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}
	apiKey := lookupAPIKey()
	if apiKey == "" {
		log.Warn("No API key set; remote calls will fail", "vars", apiKeyVars)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, apiKey); err != nil {
		log.Error("Startup failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg *config.Config, apiKey string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := wire(cfg, apiKey)
	if err != nil {
		return err
	}
	defer c.close()

	var observers []assistant.Observer

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, j.Close)
		c.journal = j
		observers = append(observers, j)
		log.Debug("Loaded journal", "path", cfg.Journal.Path)
	}

	registry := prometheus.NewRegistry()
	mp, shutdown, err := observe.InitProvider(registry)
	if err != nil {
		return err
	}
	defer shutdown(context.WithoutCancel(ctx))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return err
	}
	observers = append(observers, metrics)

	var phases []assistant.PhaseObserver
	if cfg.Bus.URL != "" {
		b, err := bus.New(cfg.Bus.URL, cfg.Bus.Reconnect)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, b.Close)
		go b.Run(ctx)
		observers = append(observers, b)
		phases = append(phases, b)
		log.Debug("Loaded bus", "url", cfg.Bus.URL)
	}

	a := assistant.New(c.voice, c.perception, c.reasoner, c.languages, c.intents, assistantOptions(cfg, observers, phases))
	remoteMode := cfg.Audio.Source == config.SourceRemote

	mux := http.NewServeMux()
	mux.Handle("/", observe.Handler(registry, a.Snapshot))
	if remoteMode {
		mux.Handle("POST /process", remote.New(a, c.voice, analyzer(c.scene), remote.Options{
			SampleRate:  cfg.Audio.SampleRate,
			OnTerminate: cancel,
		}))
	}

	served := make(chan error, 1)
	if cfg.Observe.ListenAddr != "" {
		go func() {
			err := observe.Serve(ctx, cfg.Observe.ListenAddr, mux)
			if err != nil {
				log.Error("HTTP server failed", "err", err)
			}
			served <- err
		}()
	}

	if cfg.Control.Socket != "" {
		go func() {
			if err := ipc.Serve(ctx, cfg.Control.Socket, controlHandler(a, c.journal, cancel)); err != nil {
				log.Error("Control socket failed", "err", err)
			}
		}()
		defer os.Remove(cfg.Control.Socket)
	}

	log.Info("Boot up - successful", "source", cfg.Audio.Source)

	if remoteMode {
		select {
		case <-ctx.Done():
			return nil
		case err := <-served:
			return err
		}
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogger(level string) {
	lvl, ok := logLevelMap[level]
	if !ok {
		lvl = log.LevelInfo
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: lvl,
	})))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

func lookupAPIKey() string {
	for _, k := range apiKeyVars {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
