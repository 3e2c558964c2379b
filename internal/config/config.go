package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	TraceExporter  string `yaml:"trace_exporter" toml:"trace_exporter"` // auto, otlp, stdout, none
	PrometheusBind string `yaml:"prometheus_bind" toml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
	Port int    `yaml:"port" toml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" toml:"runtime_name"`
	Environment string           `yaml:"environment" toml:"environment"`
	HTTP        HTTPConfig       `yaml:"http" toml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Bus         BusConfig        `yaml:"bus" toml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store" toml:"event_store"`
	Cache       CacheConfig      `yaml:"cache" toml:"cache"`
	Generation  GenerationConfig `yaml:"generation" toml:"generation"`
	Speech      SpeechConfig     `yaml:"speech" toml:"speech"`
	Audio       AudioConfig      `yaml:"audio" toml:"audio"`
	Narrator    NarratorConfig   `yaml:"narrator" toml:"narrator"`
	Node        NodeConfig       `yaml:"node" toml:"node"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded" toml:"embedded"`
	Port           int      `yaml:"port" toml:"port"`
	StoreDir       string   `yaml:"store_dir" toml:"store_dir"`
	Servers        []string `yaml:"servers" toml:"servers"`
	Username       string   `yaml:"username" toml:"username"`
	Password       string   `yaml:"password" toml:"password"`
	Token          string   `yaml:"token" toml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" toml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	RetentionMode string `yaml:"retention_mode" toml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions" toml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" toml:"vacuum_on_start"`
}

type CacheConfig struct {
	Mode       string `yaml:"mode" toml:"mode"` // unbounded, lru, ttl
	MaxEntries int    `yaml:"max_entries" toml:"max_entries"`
	TTLSeconds int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
}

type GenerationConfig struct {
	Mode           string `yaml:"mode" toml:"mode"` // mock, gemini, exec
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Model          string `yaml:"model" toml:"model"`
	APIKey         string `yaml:"api_key" toml:"api_key"`
	Command        string `yaml:"command" toml:"command"`
	MaxRetries     int    `yaml:"max_retries" toml:"max_retries"`
	RetryStepMS    int    `yaml:"retry_step_ms" toml:"retry_step_ms"`
	UseCache       bool   `yaml:"use_cache" toml:"use_cache"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

type SpeechConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Mode           string `yaml:"mode" toml:"mode"` // mock, playht, exec
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	APIKey         string `yaml:"api_key" toml:"api_key"`
	UserID         string `yaml:"user_id" toml:"user_id"`
	Voice          string `yaml:"voice" toml:"voice"`
	OutputFormat   string `yaml:"output_format" toml:"output_format"`
	VoiceEngine    string `yaml:"voice_engine" toml:"voice_engine"`
	Command        string `yaml:"command" toml:"command"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

type AudioConfig struct {
	Mode     string `yaml:"mode" toml:"mode"` // reference, memory, objectstore
	Bucket   string `yaml:"bucket" toml:"bucket"`
	MaxBytes int64  `yaml:"max_bytes" toml:"max_bytes"`
}

type NarratorConfig struct {
	DefaultLocale        string `yaml:"default_locale" toml:"default_locale"`
	SubmitTimeoutSeconds int    `yaml:"submit_timeout_seconds" toml:"submit_timeout_seconds"`
	AbortSuperseded      bool   `yaml:"abort_superseded" toml:"abort_superseded"`
}

// NodeConfig identifies this process on the bus. Peers learn each other's
// generation and speech backends from its announcements.
type NodeConfig struct {
	ID                  string `yaml:"id" toml:"id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms" toml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "narrator-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			TraceExporter:  "auto",
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrator-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Cache: CacheConfig{
			Mode:       "unbounded",
			MaxEntries: 512,
			TTLSeconds: 3600,
		},
		Generation: GenerationConfig{
			Mode:           "mock",
			Endpoint:       "https://generativelanguage.googleapis.com",
			Model:          "gemini-2.0-pro-exp-02-05",
			MaxRetries:     3,
			RetryStepMS:    1000,
			UseCache:       true,
			TimeoutSeconds: 60,
		},
		Speech: SpeechConfig{
			Enabled:        true,
			Mode:           "mock",
			Endpoint:       "https://api.play.ht/api/v2/tts",
			Voice:          "s3://voice-cloning-zero-shot/d9ff78ba-d016-47f6-b0ef-dd630f59414e/female-cs/manifest.json",
			OutputFormat:   "mp3",
			VoiceEngine:    "PlayHT2.0",
			TimeoutSeconds: 45,
		},
		Audio: AudioConfig{
			Mode:     "reference",
			Bucket:   "narrator-audio",
			MaxBytes: 32 << 20,
		},
		Narrator: NarratorConfig{
			DefaultLocale:        "en",
			SubmitTimeoutSeconds: 0,
			AbortSuperseded:      true,
		},
		Node: NodeConfig{
			ID:                  "narrator-node",
			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  15000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATOR_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "NARRATOR_TELEMETRY_TRACE_EXPORTER")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRATOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "NARRATOR_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATOR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Cache.Mode, "NARRATOR_CACHE_MODE")
	overrideInt(&cfg.Cache.MaxEntries, "NARRATOR_CACHE_MAX_ENTRIES")
	overrideInt(&cfg.Cache.TTLSeconds, "NARRATOR_CACHE_TTL_SECONDS")
	overrideString(&cfg.Generation.Mode, "NARRATOR_GENERATION_MODE")
	overrideString(&cfg.Generation.Endpoint, "NARRATOR_GENERATION_ENDPOINT")
	overrideString(&cfg.Generation.Model, "NARRATOR_GENERATION_MODEL")
	overrideString(&cfg.Generation.APIKey, "NARRATOR_GENERATION_API_KEY")
	overrideString(&cfg.Generation.Command, "NARRATOR_GENERATION_COMMAND")
	overrideInt(&cfg.Generation.MaxRetries, "NARRATOR_GENERATION_MAX_RETRIES")
	overrideInt(&cfg.Generation.RetryStepMS, "NARRATOR_GENERATION_RETRY_STEP_MS")
	overrideBool(&cfg.Generation.UseCache, "NARRATOR_GENERATION_USE_CACHE")
	overrideInt(&cfg.Generation.TimeoutSeconds, "NARRATOR_GENERATION_TIMEOUT_SECONDS")
	overrideBool(&cfg.Speech.Enabled, "NARRATOR_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "NARRATOR_SPEECH_MODE")
	overrideString(&cfg.Speech.Endpoint, "NARRATOR_SPEECH_ENDPOINT")
	overrideString(&cfg.Speech.APIKey, "NARRATOR_SPEECH_API_KEY")
	overrideString(&cfg.Speech.UserID, "NARRATOR_SPEECH_USER_ID")
	overrideString(&cfg.Speech.Voice, "NARRATOR_SPEECH_VOICE")
	overrideString(&cfg.Speech.OutputFormat, "NARRATOR_SPEECH_OUTPUT_FORMAT")
	overrideString(&cfg.Speech.VoiceEngine, "NARRATOR_SPEECH_VOICE_ENGINE")
	overrideString(&cfg.Speech.Command, "NARRATOR_SPEECH_COMMAND")
	overrideInt(&cfg.Speech.TimeoutSeconds, "NARRATOR_SPEECH_TIMEOUT_SECONDS")
	overrideString(&cfg.Audio.Mode, "NARRATOR_AUDIO_MODE")
	overrideString(&cfg.Audio.Bucket, "NARRATOR_AUDIO_BUCKET")
	overrideInt64(&cfg.Audio.MaxBytes, "NARRATOR_AUDIO_MAX_BYTES")
	overrideString(&cfg.Narrator.DefaultLocale, "NARRATOR_DEFAULT_LOCALE")
	overrideInt(&cfg.Narrator.SubmitTimeoutSeconds, "NARRATOR_SUBMIT_TIMEOUT_SECONDS")
	overrideBool(&cfg.Narrator.AbortSuperseded, "NARRATOR_ABORT_SUPERSEDED")
	overrideString(&cfg.Node.ID, "NARRATOR_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatIntervalMS, "NARRATOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeoutMS, "NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "auto", "stdout", "none":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint is required when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of auto|otlp|stdout|none")
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatIntervalMS <= 0 || cfg.Node.HeartbeatTimeoutMS <= cfg.Node.HeartbeatIntervalMS {
		return errors.New("node.heartbeat_timeout_ms must exceed a positive node.heartbeat_interval_ms")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Cache.Mode {
	case "unbounded":
	case "lru", "ttl":
		if cfg.Cache.MaxEntries <= 0 {
			return errors.New("cache.max_entries must be positive when mode=lru|ttl")
		}
		if cfg.Cache.Mode == "ttl" && cfg.Cache.TTLSeconds <= 0 {
			return errors.New("cache.ttl_seconds must be positive when mode=ttl")
		}
	default:
		return errors.New("cache.mode must be one of unbounded|lru|ttl")
	}
	switch cfg.Generation.Mode {
	case "mock", "gemini", "exec":
	default:
		return errors.New("generation.mode must be one of mock|gemini|exec")
	}
	if cfg.Generation.Mode == "gemini" {
		if cfg.Generation.Endpoint == "" {
			return errors.New("generation.endpoint must be set when mode=gemini")
		}
		if cfg.Generation.Model == "" {
			return errors.New("generation.model must be set when mode=gemini")
		}
	}
	if cfg.Generation.Mode == "exec" && cfg.Generation.Command == "" {
		return errors.New("generation.command must be set when mode=exec")
	}
	if cfg.Generation.MaxRetries < 0 {
		return errors.New("generation.max_retries must be >= 0")
	}
	if cfg.Generation.RetryStepMS < 0 {
		return errors.New("generation.retry_step_ms must be >= 0")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "playht", "exec":
		default:
			return errors.New("speech.mode must be one of mock|playht|exec")
		}
		if cfg.Speech.Mode == "playht" && cfg.Speech.Endpoint == "" {
			return errors.New("speech.endpoint must be set when mode=playht")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
	}
	switch cfg.Audio.Mode {
	case "reference", "memory":
	case "objectstore":
		if cfg.Audio.Bucket == "" {
			return errors.New("audio.bucket must be set when mode=objectstore")
		}
	default:
		return errors.New("audio.mode must be one of reference|memory|objectstore")
	}
	switch cfg.Narrator.DefaultLocale {
	case "en", "ar":
	default:
		return errors.New("narrator.default_locale must be one of en|ar")
	}
	if cfg.Narrator.SubmitTimeoutSeconds < 0 {
		return errors.New("narrator.submit_timeout_seconds must be >= 0")
	}
	return nil
}
