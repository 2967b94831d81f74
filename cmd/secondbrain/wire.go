package main

import (
	"context"
	"fmt"
	"time"

	log "log/slog"

	"github.com/openai/openai-go/v3/option"

	"secondbrain/internal/assistant"
	"secondbrain/internal/audio"
	"secondbrain/internal/config"
	"secondbrain/internal/intent"
	"secondbrain/internal/ipc"
	"secondbrain/internal/journal"
	"secondbrain/internal/lang"
	"secondbrain/internal/perception"
	"secondbrain/internal/proxy"
	"secondbrain/internal/reasoning"
	"secondbrain/internal/remote"
	"secondbrain/internal/resilience"
	"secondbrain/internal/tts"
	"secondbrain/internal/voice"
	"secondbrain/pkg/stt"
	"secondbrain/pkg/stt/whisper"
	"secondbrain/pkg/vision"
)

// components are the collaborators of the assistant built from config.
type components struct {
	voice      *voice.Gateway
	perception assistant.Perception
	scene      *perception.Gateway
	reasoner   *reasoning.Gateway
	languages  *lang.Classifier
	intents    *intent.Classifier
	journal    *journal.Journal

	// closers run in reverse order.
	closers []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn("Close failed", "err", err)
		}
	}
}

func wire(cfg *config.Config, apiKey string) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	c.languages = lang.New(languageOptions(cfg))
	if c.intents, err = intentClassifier(cfg.Intents); err != nil {
		return nil, err
	}
	for _, g := range c.intents.Groups() {
		log.Debug("Loaded intent", "tag", g.Tag, "keywords", len(g.Keywords))
	}

	httpClient, err := proxy.NewClient(cfg.Reasoning.Proxy, 0)
	if err != nil {
		return nil, err
	}
	apiOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.Reasoning.BaseURL != "" {
		apiOpts = append(apiOpts, option.WithBaseURL(cfg.Reasoning.BaseURL))
	}
	log.Debug("Loaded API client", "base_url", cfg.Reasoning.BaseURL, "proxy", cfg.Reasoning.Proxy)

	if c.reasoner, err = reasoner(cfg, apiOpts); err != nil {
		return nil, err
	}

	rec, err := recorder(cfg, c)
	if err != nil {
		return nil, err
	}
	log.Debug("Loaded recorder", "source", cfg.Audio.Source)

	tr, err := transcriber(cfg, c, apiOpts)
	if err != nil {
		return nil, err
	}
	log.Debug("Loaded transcriber", "provider", cfg.STT.Provider)

	var player voice.Player
	if cfg.Audio.Source != config.SourceRemote {
		if player, err = audio.NewPlayer(); err != nil {
			return nil, err
		}
	}

	var synth voice.Synthesizer
	switch cfg.TTS.Provider {
	case config.TTSEspeak:
		synth = tts.NewEspeak(cfg.TTS.Binary)
	default:
		synth = tts.NewEdge(cfg.TTS.Binary)
	}

	vopts := voice.Options{
		Voices:          make(map[string]string, len(cfg.Languages)),
		DefaultLanguage: cfg.FallbackLanguage,
	}
	for _, l := range cfg.Languages {
		// espeak voices are named by language tag.
		if cfg.TTS.Provider == config.TTSEspeak {
			vopts.Voices[l.Tag] = l.Tag
		} else {
			vopts.Voices[l.Tag] = l.Voice
		}
	}
	if d := cfg.Audio.Ducking; d.Enabled {
		vopts.Ducker = audio.NewDucker(audio.DuckerConfig{
			SelfNames: d.SelfNames,
			Factor:    d.Factor,
			MinVolume: d.MinVolume,
			Fade:      d.Fade,
		})
	}
	c.voice = voice.New(rec, tr, synth, player, vopts)

	if cfg.Vision.Enabled {
		c.scene = perceptionGateway(cfg.Vision, c)
		if cfg.Audio.Source != config.SourceRemote {
			c.perception = c.scene
		}
	}
	return c, nil
}

func languageOptions(cfg *config.Config) lang.Options {
	opts := lang.Options{
		ExitPhrases: cfg.ExitPhrases,
		Fillers:     cfg.Fillers,
		Fallback:    cfg.FallbackLanguage,
	}
	for _, l := range cfg.Languages {
		opts.Languages = append(opts.Languages, lang.Language{
			Tag:       l.Tag,
			Script:    l.Script,
			Stopwords: l.Stopwords,
		})
	}
	return opts
}

func intentClassifier(groups []config.IntentGroup) (*intent.Classifier, error) {
	out := make([]intent.Group, 0, len(groups))
	for _, g := range groups {
		tag, err := intent.ParseTag(g.Intent)
		if err != nil {
			return nil, err
		}
		out = append(out, intent.Group{Tag: tag, Keywords: g.Keywords})
	}
	return intent.New(out), nil
}

func reasoner(cfg *config.Config, apiOpts []option.RequestOption) (*reasoning.Gateway, error) {
	rc := cfg.Reasoning
	client, err := reasoning.NewOpenAI(reasoning.OpenAIConfig{
		TextModel:   rc.TextModel,
		VisionModel: rc.VisionModel,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
	}, apiOpts...)
	if err != nil {
		return nil, err
	}

	opts := reasoning.Options{
		Fallback: cfg.FallbackLanguage,
		Timeout:  rc.Timeout,
		Breaker: resilience.NewBreaker(resilience.Config{
			Name:         "reasoning",
			MaxFailures:  rc.Breaker.MaxFailures,
			ResetTimeout: rc.Breaker.ResetTimeout,
		}),
	}
	for _, l := range cfg.Languages {
		opts.Languages = append(opts.Languages, reasoning.Language{
			Tag:     l.Tag,
			Name:    l.Name,
			Apology: l.Messages.Apology,
		})
	}
	return reasoning.New(client, opts), nil
}

// recorder returns nil for a remote source; audio then arrives over HTTP.
func recorder(cfg *config.Config, c *components) (voice.Recorder, error) {
	switch cfg.Audio.Source {
	case config.SourceRemote:
		return nil, nil
	case config.SourceFile:
		src, err := audio.NewFileSource(cfg.Audio.ReplayDir, cfg.Audio.SampleRate, cfg.Audio.SilenceRMS)
		if err != nil {
			return nil, err
		}
		log.Info("Replaying recordings", "dir", cfg.Audio.ReplayDir, "count", src.Remaining())
		return src, nil
	}
	rec := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.SilenceRMS)
	if err := rec.Init(); err != nil {
		log.Warn("Microphone unavailable, will retry on each capture", "err", err)
	}
	c.closers = append(c.closers, func() error { rec.Close(); return nil })
	return rec, nil
}

func transcriber(cfg *config.Config, c *components, apiOpts []option.RequestOption) (voice.Transcriber, error) {
	if cfg.STT.Provider == config.STTOpenAI {
		r, err := stt.NewRemote(cfg.STT.Model, cfg.STT.Language, apiOpts...)
		if err != nil {
			return nil, err
		}
		return remoteTranscriber{remote: r, timeout: cfg.STT.Timeout}, nil
	}

	e, err := whisper.New(cfg.STT.ModelPath, whisper.Options{
		Language:      cfg.STT.Language,
		Threads:       cfg.STT.Threads,
		InitialPrompt: cfg.STT.InitialPrompt,
		BeamSize:      cfg.STT.BeamSize,
		Temperature:   cfg.STT.Temperature,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, e.Close)
	return whisperTranscriber{engine: e, timeout: cfg.STT.Timeout}, nil
}

type whisperTranscriber struct {
	engine  *whisper.Engine
	timeout time.Duration
}

func (w whisperTranscriber) Transcribe(ctx context.Context, clip voice.Clip) (string, error) {
	if clip.SampleRate != 16000 {
		return "", fmt.Errorf("whisper needs 16 kHz audio, got %d Hz", clip.SampleRate)
	}
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()
	res, err := w.engine.Transcribe(ctx, clip.Samples)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

type remoteTranscriber struct {
	remote  *stt.Remote
	timeout time.Duration
}

func (r remoteTranscriber) Transcribe(ctx context.Context, clip voice.Clip) (string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.remote.Transcribe(ctx, clip.Samples, clip.SampleRate)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// perceptionGateway loads the detector once. Without a detector every
// capture reports the camera as unavailable.
func perceptionGateway(vc config.VisionConfig, c *components) *perception.Gateway {
	var det perception.Detector
	d, err := vision.NewDetector(vision.DetectorConfig{
		ModelPath:      vc.ModelPath,
		LabelsPath:     vc.LabelsPath,
		InputSize:      vc.InputSize,
		ScoreThreshold: float32(vc.Confidence),
		NMSThreshold:   float32(vc.NMSThreshold),
	})
	if err != nil {
		log.Warn("Object detector unavailable", "model", vc.ModelPath, "err", err)
	} else {
		c.closers = append(c.closers, d.Close)
		det = detector{d}
		log.Debug("Loaded detector", "model", vc.ModelPath)
	}

	open := func(ctx context.Context) (perception.Camera, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cam, err := vision.Open(vc.Device)
		if err != nil {
			return nil, err
		}
		return camera{cam}, nil
	}
	return perception.New(open, det, perception.Options{
		WarmupFrames:  vc.WarmupFrames,
		MinConfidence: vc.Confidence,
		FrameDir:      vc.FrameDir,
	})
}

// analyzer decodes uploaded images for the remote endpoint. It is nil when
// vision is disabled.
func analyzer(g *perception.Gateway) remote.Analyzer {
	if g == nil {
		return nil
	}
	return remote.AnalyzerFunc(func(ctx context.Context, image []byte) (*perception.Detection, error) {
		f, err := vision.DecodeFrame(image)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", perception.ErrUnavailable, err)
		}
		defer f.Close()
		return g.Analyze(ctx, f)
	})
}

type camera struct{ *vision.Camera }

func (c camera) Read(ctx context.Context) (perception.Frame, error) {
	f, err := c.Camera.Read(ctx)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type detector struct{ *vision.Detector }

func (d detector) Detect(ctx context.Context, f perception.Frame) ([]perception.Object, error) {
	vf, ok := f.(*vision.Frame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}
	found, err := d.Detector.Detect(ctx, vf)
	if err != nil {
		return nil, err
	}
	out := make([]perception.Object, 0, len(found))
	for _, o := range found {
		out = append(out, perception.Object{Label: o.Label, Confidence: float64(o.Confidence)})
	}
	return out, nil
}

func assistantOptions(cfg *config.Config, observers []assistant.Observer, phases []assistant.PhaseObserver) assistant.Options {
	opts := assistant.Options{
		Messages:        make(map[string]assistant.Messages, len(cfg.Languages)),
		Cooldown:        cfg.Loop.Cooldown,
		FaultCooldown:   cfg.Loop.FaultCooldown,
		CaptureDuration: cfg.Loop.CaptureDuration,
		CueTone:         assistant.Tone{Frequency: cfg.Loop.CueTone.Frequency, Duration: cfg.Loop.CueTone.Duration},
		StartupTone:     assistant.Tone{Frequency: cfg.Loop.StartupTone.Frequency, Duration: cfg.Loop.StartupTone.Duration},
		HoldSteady:      cfg.Loop.HoldSteady,
		Greet:           cfg.Loop.Greet,
		Observers:       observers,
		PhaseObservers:  phases,
	}
	for _, l := range cfg.Languages {
		m := l.Messages
		opts.Messages[l.Tag] = assistant.Messages{
			Greeting:          m.Greeting,
			Farewell:          m.Farewell,
			Retry:             m.Retry,
			CameraUnavailable: m.CameraUnavailable,
			HoldSteady:        m.HoldSteady,
			MicUnavailable:    m.MicUnavailable,
		}
	}
	return opts
}

type status struct {
	Phase         string  `json:"phase"`
	Language      string  `json:"lang"`
	LastUtterance *string `json:"last_utterance"`
	LastIntent    string  `json:"last_intent,omitempty"`
	Cycles        int     `json:"cycles"`
	Uptime        string  `json:"uptime"`

	// Outcomes counts journaled cycles per outcome.
	Outcomes map[string]int `json:"outcomes,omitempty"`
}

func controlHandler(a *assistant.Assistant, j *journal.Journal, stop context.CancelFunc) ipc.Handler {
	return func(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case ipc.CmdStop:
			log.Info("Stop requested over control socket")
			stop()
			return ipc.Reply{OK: true}
		case ipc.CmdStatus:
			s := a.Snapshot()
			st := status{
				Phase:         s.Phase.String(),
				Language:      s.Language,
				LastUtterance: s.LastUtterance,
				LastIntent:    s.LastIntent,
				Cycles:        s.Cycles,
				Uptime:        time.Since(s.CreatedAt).Round(time.Second).String(),
			}
			if j != nil {
				counts, err := j.Counts(ctx)
				if err != nil {
					log.Warn("Failed to count journal outcomes", "err", err)
				}
				st.Outcomes = counts
			}
			return ipc.DataReply(st)
		case ipc.CmdHistory:
			if j == nil {
				return ipc.ErrorReply("journal is disabled")
			}
			entries, err := j.Recent(ctx, msg.Limit)
			if err != nil {
				return ipc.ErrorReply("%v", err)
			}
			return ipc.DataReply(entries)
		}
		return ipc.ErrorReply("unknown command %q", msg.Cmd)
	}
}

var (
	_ voice.Transcriber = whisperTranscriber{}
	_ voice.Transcriber = remoteTranscriber{}
)
