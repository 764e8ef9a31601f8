package ai

import "context"

// Captioner describes an image in a short sentence.
type Captioner interface {
	Caption(ctx context.Context, model string, image []byte, mimeType string) (string, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// Synthesizer renders text to a complete WAV byte stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, model, voice, text string) ([]byte, error)
}

// GenerateRequest carries the prompt and sampling parameters for one generation.
type GenerateRequest struct {
	Model            string
	Prompt           string
	MaxTokens        int64
	Temperature      float64
	FrequencyPenalty float64
	// Seed pins sampling when set; nil leaves generation non-reproducible.
	Seed *int64
}

// Generation is the raw model output plus token accounting.
type Generation struct {
	Text  string
	Usage TokenUsage
}
