// Package config holds the configuration schema and defaults for secondbrain.
//
// A configuration is usually obtained with [Load], which starts from
// [Default] and overlays the YAML file on top of it, so a config file only has
// to name the values it changes. Lists (languages, exit phrases, intent groups)
// replace the defaults as a whole.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Audio sources.
const (
	SourceMic    = "mic"
	SourceFile   = "file"
	SourceRemote = "remote"
)

// Speech-to-text providers.
const (
	STTWhisper = "whisper"
	STTOpenAI  = "openai"
)

// Text-to-speech providers.
const (
	TTSEdge   = "edge"
	TTSEspeak = "espeak"
)

// Config is the root configuration structure.
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`

	Loop LoopConfig `yaml:"loop"`

	// FallbackLanguage is used when language detection is ambiguous. It must
	// name one of Languages.
	FallbackLanguage string           `yaml:"fallback_language"`
	Languages        []LanguageConfig `yaml:"languages"`

	// ExitPhrases are matched exactly (case-insensitive, trimmed).
	ExitPhrases []string `yaml:"exit_phrases"`

	// Fillers are transcripts treated as noise.
	Fillers []string `yaml:"fillers"`

	// Intents is scanned in order; the first group with a matching keyword wins.
	Intents []IntentGroup `yaml:"intents"`

	Audio     AudioConfig     `yaml:"audio"`
	STT       STTConfig       `yaml:"stt"`
	TTS       TTSConfig       `yaml:"tts"`
	Vision    VisionConfig    `yaml:"vision"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Journal   JournalConfig   `yaml:"journal"`
	Bus       BusConfig       `yaml:"bus"`
	Observe   ObserveConfig   `yaml:"observe"`
	Control   ControlConfig   `yaml:"control"`
}

// LoopConfig tunes the interaction cycle.
type LoopConfig struct {
	// Cooldown is enforced in IDLE before a new capture starts.
	Cooldown time.Duration `yaml:"cooldown"`

	// FaultCooldown is applied after a cycle failed unexpectedly.
	FaultCooldown time.Duration `yaml:"fault_cooldown"`

	// CaptureDuration is the length of the listening window.
	CaptureDuration time.Duration `yaml:"capture_duration"`

	CueTone     ToneConfig `yaml:"cue_tone"`
	StartupTone ToneConfig `yaml:"startup_tone"`

	// HoldSteady speaks the stabilisation notice before a camera capture.
	HoldSteady bool `yaml:"hold_steady"`

	// Greet speaks the greeting message of the fallback language at startup.
	Greet bool `yaml:"greet"`
}

// ToneConfig describes a sine cue.
type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
}

// LanguageConfig describes one supported language.
type LanguageConfig struct {
	// Tag is the short language tag, e.g. "en" or "hi".
	Tag string `yaml:"tag"`

	// Name is the language name used in the reasoning system instruction.
	Name string `yaml:"name"`

	// Script is a Unicode script name (see unicode.Scripts) whose letters
	// signal this language, e.g. "Devanagari". Optional.
	Script string `yaml:"script"`

	// Stopwords signal this language when they appear as whole words.
	Stopwords []string `yaml:"stopwords"`

	// Voice is the synthesizer voice for this language.
	Voice string `yaml:"voice"`

	Messages Messages `yaml:"messages"`
}

// Messages are the fixed phrases spoken by the assistant.
type Messages struct {
	Greeting          string `yaml:"greeting"`
	Farewell          string `yaml:"farewell"`
	Retry             string `yaml:"retry"`
	CameraUnavailable string `yaml:"camera_unavailable"`
	HoldSteady        string `yaml:"hold_steady"`
	MicUnavailable    string `yaml:"mic_unavailable"`
	Apology           string `yaml:"apology"`
}

// IntentGroup binds keywords to an intent tag (VISION, KNOWLEDGE or EXIT).
type IntentGroup struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

// AudioConfig selects the capture source and playback behaviour.
type AudioConfig struct {
	// Source is "mic", "file" or "remote". A remote source takes audio from
	// phone clients posting to /process on observe.listen_addr and uses no
	// local audio device.
	Source string `yaml:"source"`

	// ReplayDir holds recordings replayed in name order when Source is "file".
	ReplayDir string `yaml:"replay_dir"`

	SampleRate int `yaml:"sample_rate"`

	// SilenceRMS drops captures whose overall RMS level is below it, so
	// room noise never reaches the transcriber. 0 disables the check.
	SilenceRMS float64 `yaml:"silence_rms"`

	Ducking DuckingConfig `yaml:"ducking"`
}

// DuckingConfig lowers other applications' volume while the assistant
// listens or speaks.
type DuckingConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Factor    float64       `yaml:"factor"`
	MinVolume int           `yaml:"min_volume"`
	Fade      time.Duration `yaml:"fade"`
	SelfNames []string      `yaml:"self_names"`
}

// STTConfig selects the transcription backend.
type STTConfig struct {
	Provider string `yaml:"provider"`

	// ModelPath is the whisper.cpp ggml model.
	ModelPath string `yaml:"model_path"`
	Threads   int    `yaml:"threads"`

	// Model is the remote transcription model.
	Model string `yaml:"model"`

	// Language is passed to the engine; "auto" lets it detect.
	Language string `yaml:"language"`

	// InitialPrompt, BeamSize and Temperature tune the whisper decoder. Zero
	// values keep the engine defaults.
	InitialPrompt string  `yaml:"initial_prompt"`
	BeamSize      int     `yaml:"beam_size"`
	Temperature   float32 `yaml:"temperature"`

	Timeout time.Duration `yaml:"timeout"`
}

// TTSConfig selects the speech synthesizer.
type TTSConfig struct {
	Provider string `yaml:"provider"`

	// Binary overrides the synthesizer executable.
	Binary string `yaml:"binary"`
}

// VisionConfig configures the camera and object detector.
type VisionConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Device       int     `yaml:"device"`
	ModelPath    string  `yaml:"model_path"`
	LabelsPath   string  `yaml:"labels_path"`
	Confidence   float64 `yaml:"confidence"`
	NMSThreshold float64 `yaml:"nms_threshold"`
	WarmupFrames int     `yaml:"warmup_frames"`
	InputSize    int     `yaml:"input_size"`

	// FrameDir receives captured frames; empty means the OS temp dir.
	FrameDir string `yaml:"frame_dir"`
}

// ReasoningConfig configures the remote reasoning service.
type ReasoningConfig struct {
	BaseURL     string        `yaml:"base_url"`
	TextModel   string        `yaml:"text_model"`
	VisionModel string        `yaml:"vision_model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`

	// Proxy is an optional SOCKS5 address (host:port) for all remote calls.
	Proxy string `yaml:"proxy"`
}

// BreakerConfig tunes the circuit breaker in front of the reasoning service.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// JournalConfig enables the SQLite interaction journal. Empty Path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// BusConfig enables the websocket event publisher. Empty URL disables it.
type BusConfig struct {
	URL       string        `yaml:"url"`
	Reconnect time.Duration `yaml:"reconnect"`
}

// ObserveConfig enables the metrics endpoint and, with a remote audio source,
// the /process endpoint. Empty ListenAddr disables it.
type ObserveConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ControlConfig configures the operator control socket.
type ControlConfig struct {
	Socket string `yaml:"socket"`
}

// Language returns the configuration for tag.
func (c *Config) Language(tag string) (LanguageConfig, bool) {
	for _, l := range c.Languages {
		if l.Tag == tag {
			return l, true
		}
	}
	return LanguageConfig{}, false
}

// Default returns the built-in configuration: English and Hindi, a Groq
// backend, local whisper transcription and edge-tts voices.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Loop: LoopConfig{
			Cooldown:        1500 * time.Millisecond,
			FaultCooldown:   2 * time.Second,
			CaptureDuration: 5 * time.Second,
			CueTone:         ToneConfig{Frequency: 800, Duration: 150 * time.Millisecond},
			StartupTone:     ToneConfig{Frequency: 1000, Duration: 500 * time.Millisecond},
			HoldSteady:      true,
			Greet:           true,
		},
		FallbackLanguage: "en",
		Languages: []LanguageConfig{
			{
				Tag:  "en",
				Name: "English",
				Stopwords: []string{
					"the", "is", "what", "how", "are", "you", "me", "my", "of", "in", "a", "to",
				},
				Voice: "en-US-GuyNeural",
				Messages: Messages{
					Greeting:          "Hi, how can I help you?",
					Farewell:          "Shutting down the second brain. Goodbye.",
					Retry:             "I didn't quite catch that. Could you repeat?",
					CameraUnavailable: "The camera is unavailable.",
					HoldSteady:        "Hold steady, I'm looking.",
					MicUnavailable:    "I can't hear you, the microphone is unavailable.",
					Apology:           "I'm having trouble connecting to the server.",
				},
			},
			{
				Tag:    "hi",
				Name:   "Hindi",
				Script: "Devanagari",
				Stopwords: []string{
					"kya", "hai", "mera", "mere", "kaise", "kaun", "aap", "mujhe", "batao", "kitne",
				},
				Voice: "hi-IN-MadhurNeural",
				Messages: Messages{
					Greeting:          "नमस्ते, मैं आपकी कैसे मदद कर सकता हूँ?",
					Farewell:          "सेकंड ब्रेन बंद हो रहा है। अलविदा।",
					Retry:             "मैं समझ नहीं पाया। कृपया दोहराएँ।",
					CameraUnavailable: "कैमरा उपलब्ध नहीं है।",
					HoldSteady:        "कृपया स्थिर रहें, मैं देख रहा हूँ।",
					MicUnavailable:    "माइक्रोफ़ोन उपलब्ध नहीं है।",
					Apology:           "मुझे सर्वर से जुड़ने में समस्या हो रही है।",
				},
			},
		},
		ExitPhrases: []string{"stop", "shutdown", "exit", "goodbye", "बंद करो"},
		Fillers:     []string{"uh", "um", "hmm", "ah", "huh", "you", "thank you", "thanks for watching"},
		Intents: []IntentGroup{
			{
				Intent:   "EXIT",
				Keywords: []string{"shut down", "goodbye", "बंद करो"},
			},
			{
				Intent: "VISION",
				Keywords: []string{
					"see", "look", "what is in front", "in front of me", "describe", "camera", "vision",
					"objects", "items", "holding", "read", "how many",
					"मेरे सामने", "क्या है", "देखो", "आसपास", "कितने",
				},
			},
		},
		Audio: AudioConfig{
			Source:     SourceMic,
			SampleRate: 16000,
			SilenceRMS: 0.004,
			Ducking: DuckingConfig{
				Factor:    0.2,
				MinVolume: 5,
				Fade:      200 * time.Millisecond,
				SelfNames: []string{"secondbrain", "PortAudio", "ALSA plug-in [secondbrain]"},
			},
		},
		STT: STTConfig{
			Provider:  STTWhisper,
			ModelPath: "models/ggml-medium.bin",
			Model:     "whisper-large-v3",
			Language:  "auto",
			Timeout:   60 * time.Second,
		},
		TTS: TTSConfig{
			Provider: TTSEdge,
		},
		Vision: VisionConfig{
			Enabled:      true,
			Device:       0,
			ModelPath:    "models/yolov8n.onnx",
			LabelsPath:   "models/coco.names",
			Confidence:   0.6,
			NMSThreshold: 0.45,
			WarmupFrames: 5,
			InputSize:    640,
		},
		Reasoning: ReasoningConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			TextModel:   "llama-3.3-70b-versatile",
			VisionModel: "meta-llama/llama-4-scout-17b-16e-instruct",
			Temperature: 0.7,
			MaxTokens:   500,
			Timeout:     30 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Bus: BusConfig{
			Reconnect: 5 * time.Second,
		},
		Control: ControlConfig{
			Socket: "/tmp/secondbrain.sock",
		},
	}
}
