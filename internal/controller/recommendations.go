package controller

import (
	"fmt"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/executor"
	"github.com/adverant/nexus/screenocr-worker/internal/sampler"
)

// Thresholds used by Recommendations
const (
	recommendCPUPercent  = 80.0
	recommendMemoryMB    = 500.0
	recommendSuccessRate = 0.6
	recommendSlowAverage = 3 * time.Second
	recommendMaxFailures = 10
	recommendMinSamples  = 5
)

// Recommendations turns the current load and executor statistics into
// operator hints. It returns nil when nothing stands out.
func Recommendations(sample sampler.Sample, stats executor.Stats) []string {
	var out []string

	if sample.CPUPercent > recommendCPUPercent {
		out = append(out, fmt.Sprintf("CPU at %.0f%%: raise INTERVAL_MIN or lower CPU_HIGH_WATERMARK", sample.CPUPercent))
	}
	if sample.MemoryMB > recommendMemoryMB {
		out = append(out, fmt.Sprintf("Memory at %.0fMB: reduce frame resolution or disable upscaling", sample.MemoryMB))
	}
	if stats.Total >= recommendMinSamples && stats.SuccessRate < recommendSuccessRate {
		out = append(out, fmt.Sprintf("Success rate %.0f%%: check engine installation and language data", stats.SuccessRate*100))
	}
	if sample.AvgRecognition > recommendSlowAverage {
		out = append(out, fmt.Sprintf("Average recognition %v: prefer a faster engine class", sample.AvgRecognition.Round(time.Millisecond)))
	}
	if stats.Failures > recommendMaxFailures {
		out = append(out, fmt.Sprintf("%d engine failures: inspect worker logs", stats.Failures))
	}

	return out
}
