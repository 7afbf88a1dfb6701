package bootstrap

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/audio"
	"wakelisten/internal/bridge"
	"wakelisten/internal/config"
	"wakelisten/internal/dispatch"
	"wakelisten/internal/domain"
	"wakelisten/internal/events"
	"wakelisten/internal/logging"
	"wakelisten/internal/netcheck"
	"wakelisten/internal/ports"
	"wakelisten/internal/providers/deepgram"
	"wakelisten/internal/rules"
	"wakelisten/internal/speech"
	"wakelisten/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Session *usecase.WakeSession
	// Bridge and Hub are nil when the bridge is disabled.
	Bridge *bridge.Server
	Hub    *bridge.Hub
	Config config.Config
	Logger *logrus.Logger

	closers []func()
}

// Close releases connections opened by Build in reverse order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Options replaces parts of the live graph.
type Options struct {
	Logger       *logrus.Logger
	Clock        clock.Clock
	Speech       ports.SpeechService
	Authorizer   ports.Authorizer
	Connectivity ports.Connectivity
	// SkipConnectivity disables the network probe.
	SkipConnectivity bool
	Sinks            []ports.EventSink
}

// Build wires all dependencies for a live microphone session.
func Build(cfg config.Config, opts Options) (*Services, error) {
	logger := opts.Logger
	if logger == nil {
		built, err := logging.NewLogger(logging.Settings{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		})
		if err != nil {
			return nil, err
		}
		logger = built
	}

	rulesEngine, err := rules.NewEngineWithOptions(rules.Options{
		Path:        cfg.Rules.Path,
		Lines:       cfg.Rules.Inline,
		WakeWord:    cfg.Session.WakeWord,
		WakeAliases: cfg.Rules.WakeAliases,
		LoopLimit:   cfg.Rules.IterationLimit,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("rules", rulesEngine.Len()).Debug("transcript rules loaded")

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	capture := audio.NewFFMPEGCapture(audio.CaptureOptions{
		Command:      cfg.Audio.RecorderCommand,
		StartupGrace: cfg.Audio.StartupGrace,
		StopTimeout:  cfg.Audio.StopTimeout,
		Logger:       logger,
	})

	speechService := opts.Speech
	if speechService == nil {
		provider := deepgram.NewProvider(deepgram.Config{
			APIKey:         cfg.Deepgram.APIKey,
			APIBaseURL:     cfg.Deepgram.APIBaseURL,
			Model:          cfg.Deepgram.Model,
			Language:       cfg.Deepgram.Language,
			SmartFormat:    cfg.Deepgram.SmartFormat,
			Endpointing:    cfg.Deepgram.Endpointing,
			UtteranceEndMS: cfg.Deepgram.UtteranceEndMS,
			VADEvents:      cfg.Deepgram.VADEvents,
			Keywords:       cfg.Deepgram.Keywords,
			KeepAlive:      cfg.Deepgram.KeepAlive,
		})
		speechService = speech.NewStreamingService(capture, provider, speech.StreamingConfig{
			Audio: audioCfg,
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:   cfg.Session.ChunkSize,
			StopTimeout: cfg.Session.StopTimeout,
			Logger:      logger,
		})
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		switch cfg.Audio.Permission {
		case config.PermissionGranted:
			authorizer = audio.StaticAuthorizer{Granted: true}
		case config.PermissionDenied:
			authorizer = audio.StaticAuthorizer{Granted: false}
		default:
			authorizer = audio.NewDeviceAuthorizer(capture, audioCfg, cfg.Audio.PermissionWait)
		}
	}

	connectivity := opts.Connectivity
	if connectivity == nil && !opts.SkipConnectivity {
		connectivity = netcheck.NewProbe(cfg.Network.ProbeAddress, cfg.Network.ProbeTimeout)
	}

	services := &Services{Config: cfg, Logger: logger}

	sinks := []ports.EventSink{events.NewLogSink(logger)}
	if cfg.Bridge.Enabled {
		services.Hub = bridge.NewHub(logger)
		sinks = append(sinks, services.Hub)
	}
	if len(cfg.NATS.URLs) > 0 {
		dispatcher, drain, err := dispatch.Connect(dispatch.Settings{
			URLs:     cfg.NATS.URLs,
			Subject:  cfg.NATS.Subject,
			User:     cfg.NATS.User,
			Password: cfg.NATS.Password,
			Token:    cfg.NATS.Token,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect command dispatcher: %w", err)
		}
		services.closers = append(services.closers, drain)
		sinks = append(sinks, dispatcher)
	}
	sinks = append(sinks, opts.Sinks...)

	services.Session = usecase.NewWakeSession(
		speechService,
		authorizer,
		connectivity,
		rulesEngine,
		events.NewFanout(sinks...),
		opts.Clock,
		usecase.Config{
			WakeWord:     cfg.Session.WakeWord,
			Mode:         domain.ArmingMode(cfg.Session.Mode),
			LanguageHint: cfg.Session.Language,
			Restart:      restartPolicy(cfg.Session.Restart),
			Logger:       logger,
		},
	)

	if services.Hub != nil {
		services.Bridge = bridge.NewServer(services.Session, services.Hub, bridge.Config{
			Addr:   cfg.Bridge.Addr,
			Logger: logger,
		})
	}
	return services, nil
}

// BuildReplay wires a session that replays script instead of listening to the
// microphone. Permission is granted and connectivity is not probed.
func BuildReplay(cfg config.Config, script speech.Script, opts Options) (*Services, error) {
	if opts.Logger == nil {
		logger, err := logging.NewLogger(logging.Settings{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return nil, err
		}
		opts.Logger = logger
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = script.Language
	}
	opts.Speech = speech.NewScriptedService(script, opts.Clock, opts.Logger)
	if opts.Authorizer == nil {
		opts.Authorizer = audio.StaticAuthorizer{Granted: true}
	}
	opts.SkipConnectivity = true
	cfg.NATS.URLs = nil
	return Build(cfg, opts)
}

func restartPolicy(cfg config.RestartConfig) usecase.RestartPolicy {
	return usecase.RestartPolicy{
		Delay:      cfg.Delay,
		MaxDelay:   cfg.MaxDelay,
		Strategy:   usecase.RestartStrategy(cfg.Strategy),
		MaxRetries: cfg.MaxRetries,
		OnError:    cfg.OnError,
		OnEnd:      cfg.OnEnd,
	}
}
