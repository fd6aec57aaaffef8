/**
 * Configuration for the Screen OCR Worker
 *
 * Loads configuration from environment variables matching .env.screenocr,
 * optionally overlaid with a YAML policy file (POLICY_FILE). The result is a
 * static structure: it is validated once at startup and never reloaded.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
)

// Config holds worker configuration
type Config struct {
	Policy Policy

	// Frame source
	FrameDir    string
	FrameLoop   bool
	FrameQueue  string
	FrameMaxAge time.Duration

	// Recognition engines
	TesseractLanguages []string
	VisionURL          string

	// Sink configuration
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatIDs   []int64
	WebSocketAddr     string
	MQTTBroker        string
	MQTTTopic         string
	MQTTClientID      string
	RedisURL          string
	RedisPrefix       string
	RedisRecentSize   int64
	TaskQueue         string
	DatabaseURL       string
	KnowledgeURL      string
	KnowledgeCompany  string
	KnowledgeTags     []string
	KnowledgeMinRunes int
	LogSink           bool

	LogLevel string
}

// Policy holds the numeric control knobs. It can be overridden from a YAML file.
type Policy struct {
	IntervalMin     time.Duration `yaml:"interval_min"`
	IntervalMax     time.Duration `yaml:"interval_max"`
	IntervalInitial time.Duration `yaml:"interval_initial"`

	HighWatermark    float64 `yaml:"cpu_high_watermark"`
	LowWatermark     float64 `yaml:"cpu_low_watermark"`
	CPUWindow        int     `yaml:"cpu_trailing_window"`
	AdjustmentFactor float64 `yaml:"adjustment_factor"`
	OverloadGain     float64 `yaml:"overload_gain"`

	BreakerWindow    int     `yaml:"breaker_window"`
	BreakerThreshold float64 `yaml:"breaker_threshold"`
	BreakerCooldown  int     `yaml:"breaker_cooldown"`

	DeadlineBase time.Duration `yaml:"deadline_base"`
	DeadlineMin  time.Duration `yaml:"deadline_min"`
	DeadlineMax  time.Duration `yaml:"deadline_max"`

	InitialEngineClass string `yaml:"initial_engine_class"`
	Language           string `yaml:"language"`

	SamplerInterval time.Duration `yaml:"sampler_interval"`
	SamplerWindow   int           `yaml:"sampler_window"`
	SamplerScope    string        `yaml:"sampler_scope"`

	DedupHorizon  time.Duration `yaml:"dedup_horizon"`
	MinTextLength int           `yaml:"min_text_length"`

	SinkRateInterval time.Duration            `yaml:"sink_rate_interval"`
	SinkRates        map[string]time.Duration `yaml:"sink_rates"`
	SinkTimeout      time.Duration            `yaml:"sink_timeout"`
}

// DefaultPolicy returns the knob values used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		IntervalMin:        500 * time.Millisecond,
		IntervalMax:        10 * time.Second,
		IntervalInitial:    2 * time.Second,
		HighWatermark:      70,
		LowWatermark:       40,
		CPUWindow:          3,
		AdjustmentFactor:   0.1,
		OverloadGain:       4,
		BreakerWindow:      5,
		BreakerThreshold:   0.5,
		BreakerCooldown:    10,
		DeadlineBase:       3 * time.Second,
		DeadlineMin:        1 * time.Second,
		DeadlineMax:        8 * time.Second,
		InitialEngineClass: "balanced",
		Language:           "eng",
		SamplerInterval:    1 * time.Second,
		SamplerWindow:      20,
		SamplerScope:       "process",
		DedupHorizon:       30 * time.Second,
		MinTextLength:      1,
		SinkRateInterval:   500 * time.Millisecond,
		SinkTimeout:        5 * time.Second,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	defaults := DefaultPolicy()

	policy := Policy{
		IntervalMin:        getEnvAsDurationOrDefault("INTERVAL_MIN", defaults.IntervalMin),
		IntervalMax:        getEnvAsDurationOrDefault("INTERVAL_MAX", defaults.IntervalMax),
		IntervalInitial:    getEnvAsDurationOrDefault("INTERVAL_INITIAL", defaults.IntervalInitial),
		HighWatermark:      getEnvAsFloatOrDefault("CPU_HIGH_WATERMARK", defaults.HighWatermark),
		LowWatermark:       getEnvAsFloatOrDefault("CPU_LOW_WATERMARK", defaults.LowWatermark),
		CPUWindow:          getEnvAsIntOrDefault("CPU_TRAILING_WINDOW", defaults.CPUWindow),
		AdjustmentFactor:   getEnvAsFloatOrDefault("ADJUSTMENT_FACTOR", defaults.AdjustmentFactor),
		OverloadGain:       getEnvAsFloatOrDefault("OVERLOAD_GAIN", defaults.OverloadGain),
		BreakerWindow:      getEnvAsIntOrDefault("BREAKER_WINDOW", defaults.BreakerWindow),
		BreakerThreshold:   getEnvAsFloatOrDefault("BREAKER_THRESHOLD", defaults.BreakerThreshold),
		BreakerCooldown:    getEnvAsIntOrDefault("BREAKER_COOLDOWN", defaults.BreakerCooldown),
		DeadlineBase:       getEnvAsDurationOrDefault("DEADLINE_BASE", defaults.DeadlineBase),
		DeadlineMin:        getEnvAsDurationOrDefault("DEADLINE_MIN", defaults.DeadlineMin),
		DeadlineMax:        getEnvAsDurationOrDefault("DEADLINE_MAX", defaults.DeadlineMax),
		InitialEngineClass: getEnvOrDefault("INITIAL_ENGINE_CLASS", defaults.InitialEngineClass),
		Language:           getEnvOrDefault("OCR_LANGUAGE", defaults.Language),
		SamplerInterval:    getEnvAsDurationOrDefault("SAMPLER_INTERVAL", defaults.SamplerInterval),
		SamplerWindow:      getEnvAsIntOrDefault("SAMPLER_WINDOW", defaults.SamplerWindow),
		SamplerScope:       getEnvOrDefault("SAMPLER_SCOPE", defaults.SamplerScope),
		DedupHorizon:       getEnvAsDurationOrDefault("DEDUP_HORIZON", defaults.DedupHorizon),
		MinTextLength:      getEnvAsIntOrDefault("MIN_TEXT_LENGTH", defaults.MinTextLength),
		SinkRateInterval:   getEnvAsDurationOrDefault("SINK_RATE_INTERVAL", defaults.SinkRateInterval),
		SinkTimeout:        getEnvAsDurationOrDefault("SINK_TIMEOUT", defaults.SinkTimeout),
		SinkRates:          map[string]time.Duration{},
	}

	if path := os.Getenv("POLICY_FILE"); path != "" {
		var err error
		policy, err = LoadPolicyFile(path, policy)
		if err != nil {
			return nil, err
		}
	}

	chatIDs, err := parseChatIDs(getEnvOrDefault("TELEGRAM_CHAT_IDS", ""))
	if err != nil {
		return nil, pipeerrors.NewConfigurationError("TELEGRAM_CHAT_IDS", err.Error())
	}

	cfg := &Config{
		Policy:             policy,
		FrameDir:           getEnvOrDefault("FRAME_DIR", ""),
		FrameLoop:          getEnvAsBoolOrDefault("FRAME_LOOP", true),
		FrameQueue:         getEnvOrDefault("FRAME_QUEUE", ""),
		FrameMaxAge:        getEnvAsDurationOrDefault("FRAME_MAX_AGE", 10*time.Second),
		TesseractLanguages: splitList(getEnvOrDefault("TESSERACT_LANGS", "eng")),
		VisionURL:          getEnvOrDefault("VISION_URL", ""),
		DiscordWebhookURL:  getEnvOrDefault("DISCORD_WEBHOOK_URL", ""),
		TelegramBotToken:   getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs:    chatIDs,
		WebSocketAddr:      getEnvOrDefault("WS_ADDR", ""),
		MQTTBroker:         getEnvOrDefault("MQTT_BROKER", ""),
		MQTTTopic:          getEnvOrDefault("MQTT_TOPIC", "screenocr/results"),
		MQTTClientID:       getEnvOrDefault("MQTT_CLIENT_ID", "screenocr-worker"),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),
		RedisPrefix:        getEnvOrDefault("REDIS_PREFIX", "screenocr"),
		RedisRecentSize:    getEnvAsInt64OrDefault("REDIS_RECENT_SIZE", 100),
		TaskQueue:          getEnvOrDefault("TASK_QUEUE", ""),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		KnowledgeURL:       getEnvOrDefault("KNOWLEDGE_URL", ""),
		KnowledgeCompany:   getEnvOrDefault("KNOWLEDGE_COMPANY_ID", ""),
		KnowledgeTags:      splitList(getEnvOrDefault("KNOWLEDGE_TAGS", "")),
		KnowledgeMinRunes:  getEnvAsIntOrDefault("KNOWLEDGE_MIN_LENGTH", 20),
		LogSink:            getEnvAsBoolOrDefault("LOG_SINK", true),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.TelegramBotToken != "" && len(c.TelegramChatIDs) == 0 {
		return pipeerrors.NewConfigurationError("TELEGRAM_CHAT_IDS", "required when TELEGRAM_BOT_TOKEN is set")
	}

	if c.TaskQueue != "" && c.RedisURL == "" {
		return pipeerrors.NewConfigurationError("TASK_QUEUE", "requires REDIS_URL")
	}

	if c.FrameQueue != "" && c.RedisURL == "" {
		return pipeerrors.NewConfigurationError("FRAME_QUEUE", "requires REDIS_URL")
	}

	if c.RedisRecentSize < 0 {
		return pipeerrors.NewConfigurationError("REDIS_RECENT_SIZE", fmt.Sprintf("must be >= 0, got %d", c.RedisRecentSize))
	}

	return nil
}

// Validate checks the policy bounds
func (p *Policy) Validate() error {
	if p.IntervalMin <= 0 {
		return pipeerrors.NewConfigurationError("INTERVAL_MIN", fmt.Sprintf("must be positive, got %v", p.IntervalMin))
	}

	if p.IntervalMin > p.IntervalMax {
		return pipeerrors.NewConfigurationError("INTERVAL_MIN",
			fmt.Sprintf("must not exceed INTERVAL_MAX (%v > %v)", p.IntervalMin, p.IntervalMax))
	}

	if p.IntervalInitial < p.IntervalMin || p.IntervalInitial > p.IntervalMax {
		return pipeerrors.NewConfigurationError("INTERVAL_INITIAL",
			fmt.Sprintf("must be within [%v, %v], got %v", p.IntervalMin, p.IntervalMax, p.IntervalInitial))
	}

	if p.HighWatermark <= 0 || p.HighWatermark > 100 {
		return pipeerrors.NewConfigurationError("CPU_HIGH_WATERMARK", fmt.Sprintf("must be within (0, 100], got %.1f", p.HighWatermark))
	}

	if p.LowWatermark <= 0 || p.LowWatermark >= p.HighWatermark {
		return pipeerrors.NewConfigurationError("CPU_LOW_WATERMARK",
			fmt.Sprintf("must be within (0, CPU_HIGH_WATERMARK), got %.1f", p.LowWatermark))
	}

	if p.CPUWindow < 1 {
		return pipeerrors.NewConfigurationError("CPU_TRAILING_WINDOW", fmt.Sprintf("must be >= 1, got %d", p.CPUWindow))
	}

	if p.AdjustmentFactor <= 0 || p.AdjustmentFactor > 1 {
		return pipeerrors.NewConfigurationError("ADJUSTMENT_FACTOR", fmt.Sprintf("must be within (0, 1], got %.3f", p.AdjustmentFactor))
	}

	if p.OverloadGain < 0 {
		return pipeerrors.NewConfigurationError("OVERLOAD_GAIN", fmt.Sprintf("must be >= 0, got %.3f", p.OverloadGain))
	}

	if p.BreakerWindow < 1 {
		return pipeerrors.NewConfigurationError("BREAKER_WINDOW", fmt.Sprintf("must be >= 1, got %d", p.BreakerWindow))
	}

	if p.BreakerThreshold <= 0 || p.BreakerThreshold > 1 {
		return pipeerrors.NewConfigurationError("BREAKER_THRESHOLD", fmt.Sprintf("must be within (0, 1], got %.3f", p.BreakerThreshold))
	}

	if p.BreakerCooldown < 1 {
		return pipeerrors.NewConfigurationError("BREAKER_COOLDOWN", fmt.Sprintf("must be >= 1, got %d", p.BreakerCooldown))
	}

	if p.DeadlineMin <= 0 || p.DeadlineBase <= 0 {
		return pipeerrors.NewConfigurationError("DEADLINE_MIN", "recognition deadlines must be positive")
	}

	if p.DeadlineMin > p.DeadlineMax {
		return pipeerrors.NewConfigurationError("DEADLINE_MIN",
			fmt.Sprintf("must not exceed DEADLINE_MAX (%v > %v)", p.DeadlineMin, p.DeadlineMax))
	}

	switch p.InitialEngineClass {
	case "fast", "balanced", "accurate":
	default:
		return pipeerrors.NewConfigurationError("INITIAL_ENGINE_CLASS",
			fmt.Sprintf("must be one of fast|balanced|accurate, got %q", p.InitialEngineClass))
	}

	if p.SamplerInterval <= 0 {
		return pipeerrors.NewConfigurationError("SAMPLER_INTERVAL", fmt.Sprintf("must be positive, got %v", p.SamplerInterval))
	}

	if p.SamplerWindow < 1 {
		return pipeerrors.NewConfigurationError("SAMPLER_WINDOW", fmt.Sprintf("must be >= 1, got %d", p.SamplerWindow))
	}

	switch p.SamplerScope {
	case "process", "host":
	default:
		return pipeerrors.NewConfigurationError("SAMPLER_SCOPE", fmt.Sprintf("must be process or host, got %q", p.SamplerScope))
	}

	if p.DedupHorizon <= 0 {
		return pipeerrors.NewConfigurationError("DEDUP_HORIZON", fmt.Sprintf("must be positive, got %v", p.DedupHorizon))
	}

	if p.MinTextLength < 1 {
		return pipeerrors.NewConfigurationError("MIN_TEXT_LENGTH", fmt.Sprintf("must be >= 1, got %d", p.MinTextLength))
	}

	if p.SinkRateInterval < 0 {
		return pipeerrors.NewConfigurationError("SINK_RATE_INTERVAL", fmt.Sprintf("must be >= 0, got %v", p.SinkRateInterval))
	}

	for name, interval := range p.SinkRates {
		if interval < 0 {
			return pipeerrors.NewConfigurationError("sink_rates."+name, fmt.Sprintf("must be >= 0, got %v", interval))
		}
	}

	if p.SinkTimeout <= 0 {
		return pipeerrors.NewConfigurationError("SINK_TIMEOUT", fmt.Sprintf("must be positive, got %v", p.SinkTimeout))
	}

	return nil
}

// SinkRate returns the minimum spacing between deliveries for a sink
func (p *Policy) SinkRate(sink string) time.Duration {
	if d, ok := p.SinkRates[sink]; ok {
		return d
	}
	return p.SinkRateInterval
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("750ms") or bare seconds ("2.5")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}

	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}

	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
