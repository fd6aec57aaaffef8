/**
 * Tesseract OCR - local engine variants for every cost class
 *
 * Free, offline OCR backed by gosseract. The three variants differ only in
 * page segmentation and frame preprocessing, which is where most of the
 * cost/accuracy trade-off lives for screen text.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/screenocr-worker/internal/engine"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// Config holds Tesseract configuration for one variant
type Config struct {
	Name       string
	Class      engine.CostClass
	Languages  []string
	PageSeg    gosseract.PageSegMode
	Preprocess engine.Preprocess
	Variables  map[string]string
}

// Engine handles OCR using Tesseract
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New creates a new Tesseract engine variant
func New(cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.Name == "" {
		cfg.Name = "tesseract-" + cfg.Class.String()
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Variants returns the standard fast, balanced and accurate Tesseract engines
func Variants(languages []string) []*Engine {
	return []*Engine{
		New(Config{
			Class:     engine.ClassFast,
			Languages: languages,
			PageSeg:   gosseract.PSM_SINGLE_BLOCK,
		}),
		New(Config{
			Class:      engine.ClassBalanced,
			Languages:  languages,
			PageSeg:    gosseract.PSM_AUTO,
			Preprocess: engine.Preprocess{Grayscale: true},
		}),
		New(Config{
			Class:      engine.ClassAccurate,
			Languages:  languages,
			PageSeg:    gosseract.PSM_AUTO,
			Preprocess: engine.Preprocess{Grayscale: true, Scale: 2},
		}),
	}
}

// Descriptor returns the static profile of this variant
func (e *Engine) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:      e.cfg.Name,
		Class:     e.cfg.Class,
		Languages: append([]string(nil), e.cfg.Languages...),
	}
}

// Entry returns the registry entry for this variant
func (e *Engine) Entry() engine.Entry {
	return engine.Entry{Descriptor: e.Descriptor(), Recognizer: e}
}

// Recognize performs OCR on a frame. Tesseract itself cannot be interrupted,
// so ctx is only checked before the expensive steps.
func (e *Engine) Recognize(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return engine.Recognition{}, err
	}

	imgData, err := e.cfg.Preprocess.Apply(f.Data)
	if err != nil {
		return engine.Recognition{}, err
	}

	if err := ctx.Err(); err != nil {
		return engine.Recognition{}, err
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(e.cfg.Languages...); err != nil {
		return engine.Recognition{}, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetPageSegMode(e.cfg.PageSeg); err != nil {
		return engine.Recognition{}, fmt.Errorf("failed to set page segmentation: %w", err)
	}
	for k, v := range e.cfg.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return engine.Recognition{}, fmt.Errorf("failed to set variable %s: %w", k, err)
		}
	}

	if err := client.SetImageFromBytes(imgData); err != nil {
		return engine.Recognition{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return engine.Recognition{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	text = strings.TrimSpace(text)

	regions, avg := wordRegions(client)
	confidence := avg
	if len(regions) == 0 {
		confidence = estimateConfidence(text)
	}

	return engine.Recognition{
		Text:       text,
		Confidence: confidence,
		Regions:    regions,
	}, nil
}

func wordRegions(c *gosseract.Client) ([]ocr.Region, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	regions := make([]ocr.Region, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		regions = append(regions, ocr.Region{
			Text:       b.Word,
			Confidence: conf,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			Width:      b.Box.Dx(),
			Height:     b.Box.Dy(),
		})
	}
	return regions, sum / float64(len(regions))
}

// estimateConfidence estimates confidence from text quality when Tesseract
// reports no word boxes
func estimateConfidence(text string) float64 {
	if text == "" {
		return 0
	}

	confidence := 0.5 // Base confidence

	words := strings.Fields(text)
	if len(words) > 3 {
		confidence += 0.1
	}
	if len(words) > 20 {
		confidence += 0.1
	}

	// Check for reasonable character distribution
	alphaCount := 0
	total := 0
	for _, r := range text {
		total++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	alphaRatio := float64(alphaCount) / float64(total)
	if alphaRatio > 0.5 && alphaRatio < 0.95 {
		confidence += 0.1
	}

	// Cap at reasonable maximum for Tesseract
	if confidence > 0.85 {
		confidence = 0.85
	}

	return confidence
}
