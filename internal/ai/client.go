package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	captionInstruction = "Describe this image in one short sentence."
	captionMaxTokens   = 60
)

// Client wraps the official OpenAI SDK client and exposes the three capabilities used by the app.
type Client struct {
	sdk openai.Client
}

// New constructs a new AI client. The apiKey is required.
// baseURL is optional (empty string uses the default API endpoint); any
// OpenAI-compatible server works.
func New(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	sdk := openai.NewClient(opts...)
	return &Client{sdk: sdk}, nil
}

// VerifyModel checks that model is served by the endpoint.
func (c *Client) VerifyModel(ctx context.Context, model string) error {
	if model == "" {
		return errors.New("model name is required")
	}
	if _, err := c.sdk.Models.Get(ctx, model); err != nil {
		return fmt.Errorf("verify model %s: %w", model, err)
	}
	return nil
}

// Caption asks a vision-capable chat model for a one-sentence description of the image.
func (c *Client) Caption(ctx context.Context, model string, image []byte, mimeType string) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(captionInstruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxCompletionTokens: openai.Int(captionMaxTokens),
	}
	res, err := c.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Message.Content, nil
}

// Generate runs a single-turn chat completion with the given sampling parameters.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature:      openai.Float(req.Temperature),
		FrequencyPenalty: openai.Float(req.FrequencyPenalty),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	res, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Generation{}, err
	}
	gen := Generation{Usage: usageFromCompletion(res.Usage)}
	if len(res.Choices) > 0 {
		gen.Text = res.Choices[0].Message.Content
	}
	return gen, nil
}

// Synthesize returns WAV audio from the Audio Speech API.
// model should be a TTS-capable model (e.g., gpt-4o-mini-tts) and voice is a supported voice name.
func (c *Client) Synthesize(ctx context.Context, model, voice, text string) ([]byte, error) {
	req := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	resp, err := c.sdk.Audio.Speech.New(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
