package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestPolicyValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
		field  string
	}{
		{"min greater than max", func(p *Policy) { p.IntervalMin = 20 * time.Second }, "INTERVAL_MIN"},
		{"zero min", func(p *Policy) { p.IntervalMin = 0 }, "INTERVAL_MIN"},
		{"initial out of bounds", func(p *Policy) { p.IntervalInitial = time.Minute }, "INTERVAL_INITIAL"},
		{"watermarks inverted", func(p *Policy) { p.LowWatermark = 80 }, "CPU_LOW_WATERMARK"},
		{"high watermark above 100", func(p *Policy) { p.HighWatermark = 120 }, "CPU_HIGH_WATERMARK"},
		{"breaker threshold zero", func(p *Policy) { p.BreakerThreshold = 0 }, "BREAKER_THRESHOLD"},
		{"deadline bounds inverted", func(p *Policy) { p.DeadlineMin = 10 * time.Second }, "DEADLINE_MIN"},
		{"unknown engine class", func(p *Policy) { p.InitialEngineClass = "turbo" }, "INITIAL_ENGINE_CLASS"},
		{"zero dedup horizon", func(p *Policy) { p.DedupHorizon = 0 }, "DEDUP_HORIZON"},
		{"bad sampler scope", func(p *Policy) { p.SamplerScope = "cluster" }, "SAMPLER_SCOPE"},
		{"negative sink rate", func(p *Policy) { p.SinkRates = map[string]time.Duration{"webhook": -time.Second} }, "sink_rates.webhook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)

			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !pipeerrors.IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			pe := err.(*pipeerrors.PipelineError)
			if pe.Details["field"] != tt.field {
				t.Errorf("field = %v, want %s", pe.Details["field"], tt.field)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("INTERVAL_MIN", "250ms")
	t.Setenv("INTERVAL_MAX", "4")
	t.Setenv("CPU_HIGH_WATERMARK", "85")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_IDS", "100,-200")
	t.Setenv("TESSERACT_LANGS", "eng+deu")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Policy.IntervalMin != 250*time.Millisecond {
		t.Errorf("IntervalMin = %v", cfg.Policy.IntervalMin)
	}
	if cfg.Policy.IntervalMax != 4*time.Second {
		t.Errorf("IntervalMax = %v", cfg.Policy.IntervalMax)
	}
	if cfg.Policy.HighWatermark != 85 {
		t.Errorf("HighWatermark = %v", cfg.Policy.HighWatermark)
	}
	if len(cfg.TelegramChatIDs) != 2 || cfg.TelegramChatIDs[1] != -200 {
		t.Errorf("TelegramChatIDs = %v", cfg.TelegramChatIDs)
	}
	if len(cfg.TesseractLanguages) != 2 || cfg.TesseractLanguages[1] != "deu" {
		t.Errorf("TesseractLanguages = %v", cfg.TesseractLanguages)
	}
}

func TestLoadConfigRejectsInvertedInterval(t *testing.T) {
	t.Setenv("INTERVAL_MIN", "5s")
	t.Setenv("INTERVAL_MAX", "1s")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	if !pipeerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadConfigTelegramNeedsChats(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")

	if _, err := LoadConfig(); !pipeerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadConfigQueuesNeedRedis(t *testing.T) {
	for _, key := range []string{"TASK_QUEUE", "FRAME_QUEUE"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv("REDIS_URL", "")
			t.Setenv(key, "screenocr")

			if _, err := LoadConfig(); !pipeerrors.IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
interval_max: 6s
cpu_high_watermark: 75
breaker_cooldown: 4
sink_rates:
  telegram: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	base := DefaultPolicy()
	p, err := LoadPolicyFile(path, base)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}

	if p.IntervalMax != 6*time.Second {
		t.Errorf("IntervalMax = %v", p.IntervalMax)
	}
	if p.HighWatermark != 75 {
		t.Errorf("HighWatermark = %v", p.HighWatermark)
	}
	if p.BreakerCooldown != 4 {
		t.Errorf("BreakerCooldown = %v", p.BreakerCooldown)
	}
	if p.IntervalMin != base.IntervalMin {
		t.Errorf("IntervalMin should keep base value, got %v", p.IntervalMin)
	}
	if got := p.SinkRate("telegram"); got != 2*time.Second {
		t.Errorf("SinkRate(telegram) = %v", got)
	}
	if got := p.SinkRate("webhook"); got != base.SinkRateInterval {
		t.Errorf("SinkRate(webhook) = %v", got)
	}
}

func TestLoadPolicyFileUnknownKey(t *testing.T) {
	_, err := parsePolicy([]byte("interval_maximum: 3s\n"), DefaultPolicy())
	if !pipeerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
