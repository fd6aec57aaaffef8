package engine

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/screenocr-worker/internal/clients"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
)

// VisionEngine recognizes frames through a remote vision model service.
type VisionEngine struct {
	name     string
	language string
	client   *clients.VisionClient
}

// NewVisionEngine creates the remote accurate-class engine
func NewVisionEngine(name string, language string, client *clients.VisionClient) *VisionEngine {
	if name == "" {
		name = "vision"
	}
	return &VisionEngine{name: name, language: language, client: client}
}

// Descriptor returns the static profile of the remote engine. Vision models
// are multilingual, so no language restriction is advertised.
func (v *VisionEngine) Descriptor() Descriptor {
	return Descriptor{Name: v.name, Class: ClassAccurate}
}

// Entry returns the registry entry for the remote engine
func (v *VisionEngine) Entry() Entry {
	return Entry{Descriptor: v.Descriptor(), Recognizer: v}
}

// Recognize sends the frame to the vision service and waits for the text
func (v *VisionEngine) Recognize(ctx context.Context, f frame.Frame) (Recognition, error) {
	resp, err := v.client.ExtractTextFromBytes(ctx, f.Data, true, v.language)
	if err != nil {
		return Recognition{}, fmt.Errorf("vision extraction failed: %w", err)
	}
	return Recognition{
		Text:       resp.Data.Text,
		Confidence: resp.Data.Confidence,
	}, nil
}
