package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ValidIntents lists the intent tags accepted in intent groups.
var ValidIntents = []string{"VISION", "KNOWLEDGE", "EXIT"}

// Load reads the YAML configuration file at path on top of [Default] and
// returns the validated result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Loop
	if cfg.Loop.CaptureDuration <= 0 {
		errs = append(errs, fmt.Errorf("loop.capture_duration must be positive, got %s", cfg.Loop.CaptureDuration))
	}
	if cfg.Loop.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("loop.cooldown must not be negative, got %s", cfg.Loop.Cooldown))
	}
	if cfg.Loop.FaultCooldown < 0 {
		errs = append(errs, fmt.Errorf("loop.fault_cooldown must not be negative, got %s", cfg.Loop.FaultCooldown))
	}

	// Languages
	if len(cfg.Languages) == 0 {
		errs = append(errs, errors.New("languages: at least one language is required"))
	}
	seen := make(map[string]int, len(cfg.Languages))
	for i, l := range cfg.Languages {
		prefix := fmt.Sprintf("languages[%d]", i)
		if l.Tag == "" {
			errs = append(errs, fmt.Errorf("%s.tag is required", prefix))
		} else {
			if prev, ok := seen[l.Tag]; ok {
				errs = append(errs, fmt.Errorf("%s.tag %q is a duplicate of languages[%d]", prefix, l.Tag, prev))
			}
			seen[l.Tag] = i
		}
		if l.Script != "" {
			if _, ok := unicode.Scripts[l.Script]; !ok {
				errs = append(errs, fmt.Errorf("%s.script %q is not a Unicode script name", prefix, l.Script))
			}
		}
		if l.Name == "" {
			slog.Warn("language has no name; the reasoning instruction will use its tag", "tag", l.Tag)
		}
		errs = append(errs, validateMessages(prefix, l.Messages)...)
	}
	if _, ok := seen[cfg.FallbackLanguage]; !ok {
		errs = append(errs, fmt.Errorf("fallback_language %q is not one of the configured languages", cfg.FallbackLanguage))
	}

	if len(cfg.ExitPhrases) == 0 {
		slog.Warn("no exit phrases configured; the assistant can only be stopped by the operator")
	}

	// Intents
	for i, g := range cfg.Intents {
		if !isValidIntent(g.Intent) {
			errs = append(errs, fmt.Errorf("intents[%d].intent %q is invalid; valid values: %s", i, g.Intent, strings.Join(ValidIntents, ", ")))
		}
		if len(g.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("intents[%d].keywords must not be empty", i))
		}
	}

	// Audio
	switch cfg.Audio.Source {
	case SourceMic:
	case SourceFile:
		if cfg.Audio.ReplayDir == "" {
			errs = append(errs, errors.New("audio.replay_dir is required when audio.source is file"))
		}
	case SourceRemote:
		if cfg.Observe.ListenAddr == "" {
			errs = append(errs, errors.New("observe.listen_addr is required when audio.source is remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: mic, file, remote", cfg.Audio.Source))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SilenceRMS < 0 || cfg.Audio.SilenceRMS >= 1 {
		errs = append(errs, fmt.Errorf("audio.silence_rms %.4f is out of range [0, 1)", cfg.Audio.SilenceRMS))
	}
	if cfg.Audio.Ducking.Enabled && (cfg.Audio.Ducking.Factor < 0 || cfg.Audio.Ducking.Factor > 1) {
		errs = append(errs, fmt.Errorf("audio.ducking.factor %.2f is out of range [0, 1]", cfg.Audio.Ducking.Factor))
	}

	// STT
	switch cfg.STT.Provider {
	case STTWhisper:
		if cfg.STT.ModelPath == "" {
			errs = append(errs, errors.New("stt.model_path is required for the whisper provider"))
		}
		if cfg.Audio.SampleRate != 16000 {
			errs = append(errs, fmt.Errorf("audio.sample_rate must be 16000 for the whisper provider, got %d", cfg.Audio.SampleRate))
		}
		if cfg.STT.BeamSize < 0 {
			errs = append(errs, fmt.Errorf("stt.beam_size must not be negative, got %d", cfg.STT.BeamSize))
		}
		if cfg.STT.Temperature < 0 || cfg.STT.Temperature > 1 {
			errs = append(errs, fmt.Errorf("stt.temperature %.2f is out of range [0, 1]", cfg.STT.Temperature))
		}
	case STTOpenAI:
		if cfg.STT.Model == "" {
			errs = append(errs, errors.New("stt.model is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("stt.provider %q is invalid; valid values: whisper, openai", cfg.STT.Provider))
	}

	// TTS
	if cfg.TTS.Provider != TTSEdge && cfg.TTS.Provider != TTSEspeak {
		errs = append(errs, fmt.Errorf("tts.provider %q is invalid; valid values: edge, espeak", cfg.TTS.Provider))
	}

	// Vision
	if cfg.Vision.Confidence < 0 || cfg.Vision.Confidence > 1 {
		errs = append(errs, fmt.Errorf("vision.confidence %.2f is out of range [0, 1]", cfg.Vision.Confidence))
	}
	if cfg.Vision.WarmupFrames < 0 {
		errs = append(errs, fmt.Errorf("vision.warmup_frames must not be negative, got %d", cfg.Vision.WarmupFrames))
	}
	if cfg.Vision.Enabled && cfg.Vision.ModelPath == "" {
		errs = append(errs, errors.New("vision.model_path is required when vision is enabled"))
	}

	// Reasoning
	if cfg.Reasoning.TextModel == "" {
		errs = append(errs, errors.New("reasoning.text_model is required"))
	}
	if cfg.Reasoning.VisionModel == "" {
		slog.Warn("reasoning.vision_model is empty; image requests will use the text model")
	}
	if cfg.Reasoning.Temperature < 0 || cfg.Reasoning.Temperature > 2 {
		errs = append(errs, fmt.Errorf("reasoning.temperature %.2f is out of range [0, 2]", cfg.Reasoning.Temperature))
	}

	return errors.Join(errs...)
}

func validateMessages(prefix string, m Messages) []error {
	var errs []error
	required := map[string]string{
		"farewell":           m.Farewell,
		"retry":              m.Retry,
		"camera_unavailable": m.CameraUnavailable,
		"apology":            m.Apology,
	}
	for _, key := range []string{"farewell", "retry", "camera_unavailable", "apology"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s.messages.%s is required", prefix, key))
		}
	}
	return errs
}

func isValidIntent(s string) bool {
	for _, v := range ValidIntents {
		if s == v {
			return true
		}
	}
	return false
}
