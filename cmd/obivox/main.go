// Obivox is a drift-aware speech routing daemon. It maps incoming audio to a
// position, classifies drift against a learned operating point, rebalances
// its service index accordingly and invokes the speech backend the index
// selects.
//
// Usage:
//
//	obivox [flags]
//	obivox --config /path/to/obivox.yaml
//
// @title       obivox API
// @version     1.0
// @description Drift-aware speech routing: dispatch audio or text to codec backends and feed human corrections back.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/codec/mock"
	openaicodec "github.com/nadzzz/obivox/internal/codec/openai"
	"github.com/nadzzz/obivox/internal/codec/piper"
	"github.com/nadzzz/obivox/internal/codec/whisper"
	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/dispatch"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/feedback"
	"github.com/nadzzz/obivox/internal/health"
	"github.com/nadzzz/obivox/internal/media"
	"github.com/nadzzz/obivox/internal/observe"
	"github.com/nadzzz/obivox/internal/resilience"
	"github.com/nadzzz/obivox/internal/transport"
	grpctransport "github.com/nadzzz/obivox/internal/transport/grpc"
	httptransport "github.com/nadzzz/obivox/internal/transport/http"
	"github.com/nadzzz/obivox/internal/variation"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/obivox.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("obivox %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	config.SetupLogging(cfg.Logging)
	slog.Info("obivox starting", "version", version)

	if err := run(cfg); err != nil {
		slog.Error("obivox failed", "error", err)
		os.Exit(1)
	}
	slog.Info("obivox stopped")
}

func run(cfg *config.Config) error {
	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Server.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	index, err := buildIndex(cfg)
	if err != nil {
		return err
	}

	control := drift.NewController(drift.Config{
		CoherenceThreshold:    cfg.Drift.CoherenceThreshold,
		StressedThreshold:     cfg.Drift.StressedThreshold,
		MaxRecoveryAttempts:   cfg.Drift.MaxRecoveryAttempts,
		ShortfallGain:         cfg.Drift.ShortfallGain,
		DisableFaultTolerance: !cfg.Drift.FaultTolerance,
	})

	codecs, err := buildCodecs(cfg.Codec)
	if err != nil {
		return err
	}
	defer codecs.Close()

	var converter media.Converter
	if cfg.Media.Enabled {
		converter = media.NewFFmpeg(cfg.Media)
	}

	store, err := feedback.NewStore(cfg.Feedback.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	breakers := resilience.NewSet(resilience.BreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
	})

	sttService, sttOp, _ := config.SplitKey(cfg.Dispatch.STTKey)
	ttsService, ttsOp, _ := config.SplitKey(cfg.Dispatch.TTSKey)
	profile := variation.DefaultProfile()
	profile.Tolerance = cfg.Variation.Tolerance
	profile.PhenomenologicalIntegrity = cfg.Variation.PhenomenologicalIntegrity
	profile.AccentNormalization = cfg.Variation.AccentNormalization

	dispatcher := dispatch.New(dispatch.Deps{
		Index:    index,
		Control:  control,
		Codecs:   codecs,
		Breakers: breakers,
		Media:    converter,
		Feedback: store,
	}, dispatch.Options{
		STTKey:             atlas.Key{Service: sttService, Operation: sttOp},
		TTSKey:             atlas.Key{Service: ttsService, Operation: ttsOp},
		NormalizeAbove:     cfg.Variation.NormalizeAbove,
		PreservationFactor: &cfg.Variation.PreservationFactor,
		ConfirmBelow:       cfg.Dispatch.ConfirmBelow,
		CostSmoothing:      cfg.Atlas.CostSmoothing,
		CodecTimeout:       cfg.Codec.Timeout,
		DefaultProfile:     &profile,
	})

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP, nil))
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	healthServer := health.New(cfg.Server, health.WithBreakers(dispatcher.Breakers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.ListenAndServe(gctx) })
	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx, dispatcher); err != nil {
				return fmt.Errorf("transport %s: %w", t.Name(), err)
			}
			return nil
		})
	}

	healthServer.SetReady(true)
	slog.Info("obivox ready",
		"transports", len(transports),
		"backends", codecs.Names(),
		"entries", index.Len(),
		"health_port", cfg.Server.HealthPort)

	<-gctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}
	return g.Wait()
}

// buildIndex creates the discovery index and loads its seed entries. Without
// a seed file the two default routes are registered, served by whichever
// backend of the matching kind is enabled.
func buildIndex(cfg *config.Config) (*atlas.Index, error) {
	discipline, err := atlas.ParseDiscipline(cfg.Atlas.Discipline)
	if err != nil {
		return nil, err
	}
	ix := atlas.New(atlas.Config{
		Discipline:      discipline,
		HybridWindow:    cfg.Atlas.HybridWindow,
		HybridWriteRate: cfg.Atlas.HybridWriteRate,
		HybridInterval:  cfg.Atlas.HybridInterval,
	})

	var entries []atlas.Entry
	if cfg.Atlas.SeedFile != "" {
		entries, err = atlas.LoadSeed(cfg.Atlas.SeedFile)
		if err != nil {
			return nil, err
		}
	} else {
		entries = defaultEntries(cfg)
	}
	if err := ix.Seed(entries); err != nil {
		return nil, fmt.Errorf("seeding atlas: %w", err)
	}
	slog.Info("atlas ready", "discipline", discipline, "entries", ix.Len())
	return ix, nil
}

func defaultEntries(cfg *config.Config) []atlas.Entry {
	var stt []string
	if cfg.Codec.Whisper.Enabled {
		stt = append(stt, "whisper")
	}
	if cfg.Codec.OpenAI.Enabled {
		stt = append(stt, "openai")
	}
	if cfg.Codec.Mock.Enabled {
		stt = append(stt, "mock")
	}
	tts := ""
	switch {
	case cfg.Codec.Piper.Enabled:
		tts = "piper"
	case cfg.Codec.Mock.Enabled:
		tts = "mock-tts"
	}

	sttService, sttOp, _ := config.SplitKey(cfg.Dispatch.STTKey)
	ttsService, ttsOp, _ := config.SplitKey(cfg.Dispatch.TTSKey)
	e := []atlas.Entry{
		{Service: sttService, Operation: sttOp, Coords: atlas.Coords{X: 1, Y: 1, Z: 1}, DynamicCost: 1},
		{Service: ttsService, Operation: ttsOp, Coords: atlas.Coords{X: 2, Y: 1, Z: 1}, DynamicCost: 1, Backend: tts},
	}
	if len(stt) > 0 {
		e[0].Backend, e[0].Fallbacks = stt[0], stt[1:]
	}
	return e
}

// buildCodecs registers every enabled backend.
func buildCodecs(cfg config.CodecConfig) (*codec.Registry, error) {
	reg := codec.NewRegistry()
	var backends []codec.Backend

	if cfg.Whisper.Enabled {
		backends = append(backends, whisper.New(cfg.Whisper))
		slog.Info("whisper backend enabled", "endpoint", cfg.Whisper.Endpoint, "type", cfg.Whisper.Type)
	}
	if cfg.OpenAI.Enabled {
		b, err := openaicodec.New(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
		slog.Info("openai backend enabled", "model", cfg.OpenAI.TranscriptionModel)
	}
	if cfg.Piper.Enabled {
		backends = append(backends, piper.New(cfg.Piper))
		slog.Info("piper backend enabled", "endpoint", cfg.Piper.Endpoint, "languages", len(cfg.Piper.Endpoints))
	}
	if cfg.Mock.Enabled {
		backends = append(backends,
			mock.NewSTT("mock", cfg.Mock.Transcript, cfg.Mock.Confidence),
			mock.NewTTS("mock-tts"),
		)
		slog.Warn("mock backends enabled")
	}

	for _, b := range backends {
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
