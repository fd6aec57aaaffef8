/**
 * Recognition engines
 *
 * Engines are registered once at startup and the set never changes while the
 * worker runs. Each engine is described by a static cost class:
 *
 * - fast:     Tesseract, single block, no preprocessing
 * - balanced: Tesseract on a grayscale frame
 * - accurate: Tesseract on a grayscale 2x upscale, or a remote vision model
 */

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// CostClass orders engines from cheapest to most accurate
type CostClass int

const (
	ClassFast CostClass = iota
	ClassBalanced
	ClassAccurate
)

func (c CostClass) String() string {
	switch c {
	case ClassFast:
		return "fast"
	case ClassBalanced:
		return "balanced"
	case ClassAccurate:
		return "accurate"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass converts a configuration string into a CostClass
func ParseClass(s string) (CostClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return ClassFast, nil
	case "balanced":
		return ClassBalanced, nil
	case "accurate":
		return ClassAccurate, nil
	default:
		return ClassFast, fmt.Errorf("unknown engine class %q", s)
	}
}

// Descriptor identifies an engine variant and its static profile
type Descriptor struct {
	Name      string
	Class     CostClass
	Languages []string // empty means language independent
}

// Supports reports whether the engine can read the given language.
// An empty lang is always supported.
func (d Descriptor) Supports(lang string) bool {
	if lang == "" || len(d.Languages) == 0 {
		return true
	}
	for _, l := range d.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Recognition is the raw output of one engine call
type Recognition struct {
	Text       string
	Confidence float64
	Regions    []ocr.Region
}

// Recognizer is the capability every engine implements.
// Implementations should return promptly once ctx is done, but callers never
// rely on it.
type Recognizer interface {
	Recognize(ctx context.Context, f frame.Frame) (Recognition, error)
}

// RecognizerFunc adapts a function to the Recognizer interface
type RecognizerFunc func(ctx context.Context, f frame.Frame) (Recognition, error)

func (fn RecognizerFunc) Recognize(ctx context.Context, f frame.Frame) (Recognition, error) {
	return fn(ctx, f)
}
