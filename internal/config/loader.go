package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// knownVoices lists the realtime voice presets the upstream accepts.
// Used by [Validate] to warn about likely typos.
var knownVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// OpenAI
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("openai.api_key is empty; session minting and analysis will fail")
	}
	validateVoice(cfg.Interview.Voice)

	// Interview
	if d := cfg.Interview.Duration.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("interview.duration %s must not be negative", d))
	}
	vad := cfg.Interview.VAD
	if vad.Threshold != 0 && (vad.Threshold <= 0 || vad.Threshold > 1) {
		errs = append(errs, fmt.Errorf("interview.vad.threshold %.2f is out of range (0, 1]", vad.Threshold))
	}
	if vad.MinSpeechMs < 0 || vad.SilenceDurationMs < 0 || vad.PrefixPaddingMs < 0 {
		errs = append(errs, errors.New("interview.vad durations must not be negative"))
	}

	seenIDs := make(map[string]int, len(cfg.Interview.Candidates))
	for i, c := range cfg.Interview.Candidates {
		prefix := fmt.Sprintf("interview.candidates[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if c.ID != "" {
			if prev, ok := seenIDs[c.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of interview.candidates[%d]", prefix, c.ID, prev))
			}
			seenIDs[c.ID] = i
		}
	}

	for topic, course := range cfg.Interview.Courses {
		if course.Title == "" || course.URL == "" {
			errs = append(errs, fmt.Errorf("interview.courses[%q] requires both title and url", topic))
		}
	}

	// Recording
	if cfg.Recording.Container != "" && !cfg.Recording.Container.IsValid() {
		errs = append(errs, fmt.Errorf("recording.container %q is invalid; valid values: wav, webm", cfg.Recording.Container))
	}
	if d := cfg.Recording.ChunkInterval.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("recording.chunk_interval %s must not be negative", d))
	}

	// Metadata
	if cfg.Metadata.PostgresDSN == "" {
		slog.Warn("metadata.postgres_dsn is empty; interview metadata will not be persisted")
	}

	// Events
	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 {
			slog.Warn("events.enabled is set but no brokers are configured; turn events run in log-only mode")
		}
		if cfg.Events.TopicInterviewer == "" || cfg.Events.TopicCandidate == "" {
			errs = append(errs, errors.New("events requires topic_interviewer and topic_candidate when enabled"))
		}
	}

	// Premises
	if cfg.Premises.BaseURL != "" {
		if !strings.HasPrefix(cfg.Premises.BaseURL, "http://") && !strings.HasPrefix(cfg.Premises.BaseURL, "https://") {
			errs = append(errs, fmt.Errorf("premises.base_url %q must be an http(s) URL", cfg.Premises.BaseURL))
		}
		if cfg.Premises.MaxFailures < 0 {
			errs = append(errs, errors.New("premises.max_failures must not be negative"))
		}
	}

	return errors.Join(errs...)
}

// validateVoice logs a warning if voice is non-empty and not a known
// upstream preset.
func validateVoice(voice string) {
	if voice == "" {
		return
	}
	for _, known := range knownVoices {
		if voice == known {
			return
		}
	}
	slog.Warn("unknown interview voice — may be a typo or a newly released preset",
		"voice", voice,
		"known", knownVoices,
	)
}
