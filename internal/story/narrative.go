package story

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"storyteller/internal/ai"
	"storyteller/internal/metrics"
	"storyteller/internal/models"
)

// StoryFallback is returned when generation yields no text after cleanup.
const StoryFallback = "No story generated."

// PromptTemplate embeds the caption verbatim.
const PromptTemplate = "Create a unique and creative short story, or a descriptive poem, inspired by the following image caption:\n\nCaption: \"%s\"\n\nStory/Poem:"

const (
	retryTemperatureStep = 0.1
	maxRetryTemperature  = 1.5
)

// chat-template turn delimiters such as <|assistant|>
var turnMarker = regexp.MustCompile(`<\|[^|<>]*\|>`)

var templateRoles = map[string]bool{"system": true, "user": true}

var turnBoundaries = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"end":       true,
	"eot_id":    true,
	"endoftext": true,
	"im_start":  true,
	"im_end":    true,
}

// Sampling controls story generation.
type Sampling struct {
	MaxTokens        int64
	Temperature      float64
	FrequencyPenalty float64
	Seed             *int64
}

// DefaultSampling favors variety over reproducibility.
var DefaultSampling = Sampling{
	MaxTokens:        300,
	Temperature:      0.9,
	FrequencyPenalty: 0.5,
}

// DeterministicSampling disables sampling randomness and pins the seed.
func DeterministicSampling(seed int64) Sampling {
	s := DefaultSampling
	s.Temperature = 0
	s.Seed = &seed
	return s
}

func (s Sampling) warmer() Sampling {
	s.Temperature += retryTemperatureStep
	if s.Temperature > maxRetryTemperature {
		s.Temperature = maxRetryTemperature
	}
	return s
}

// NarrativeRequest is the per-call input of the narrative engine.
type NarrativeRequest struct {
	Caption        string
	PromptTemplate string
}

// NewNarrativeRequest builds a request using PromptTemplate.
func NewNarrativeRequest(caption string) NarrativeRequest {
	return NarrativeRequest{Caption: caption, PromptTemplate: PromptTemplate}
}

// Prompt renders the template with the caption.
func (r NarrativeRequest) Prompt() string {
	return fmt.Sprintf(r.PromptTemplate, r.Caption)
}

// NarrativeEngine expands a caption into a short story or poem.
type NarrativeEngine struct {
	models   ModelSource
	limiter  *rate.Limiter
	timeout  time.Duration
	sampling Sampling

	// Retries is how many extra generations to attempt when a story looks
	// degenerate. Zero only logs the detection.
	Retries int
}

// NewNarrativeEngine returns a narrative engine using DefaultSampling. limiter may be nil.
func NewNarrativeEngine(src ModelSource, limiter *rate.Limiter) *NarrativeEngine {
	return &NarrativeEngine{
		models:   src,
		limiter:  limiter,
		timeout:  GenerateTimeout,
		sampling: DefaultSampling,
	}
}

// WithSampling returns a copy of e that generates with s.
func (e *NarrativeEngine) WithSampling(s Sampling) *NarrativeEngine {
	cp := *e
	cp.sampling = s
	return &cp
}

// Narrate returns a cleaned story for caption, or StoryFallback when nothing usable remains.
func (e *NarrativeEngine) Narrate(ctx context.Context, caption string) (string, error) {
	generator, model, err := acquire[ai.Generator](ctx, e.models, models.KindGenerate)
	if err != nil {
		return "", err
	}

	prompt := NewNarrativeRequest(caption).Prompt()
	sampling := e.sampling
	var story string
	for attempt := 0; ; attempt++ {
		story, err = e.generate(ctx, generator, model, prompt, sampling)
		if err != nil {
			return "", err
		}
		if !LooksDegenerate(caption, story) {
			break
		}
		metrics.DegenerateStories.Inc()
		slog.Warn("generated story seems too short or too similar to caption",
			"attempt", attempt+1,
			"captionLength", utf8.RuneCountInString(caption),
			"storyLength", utf8.RuneCountInString(story),
		)
		if attempt >= e.Retries {
			break
		}
		sampling = sampling.warmer()
	}

	if story == "" {
		slog.Warn("story model returned no text, using fallback")
		return StoryFallback, nil
	}
	return story, nil
}

func (e *NarrativeEngine) generate(ctx context.Context, generator ai.Generator, model, prompt string, s Sampling) (string, error) {
	if err := waitTurn(ctx, e.limiter); err != nil {
		return "", &InferenceError{Stage: StageNarrate, Err: err}
	}
	callCtx, cancel := inferenceContext(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	gen, err := generator.Generate(callCtx, ai.GenerateRequest{
		Model:            model,
		Prompt:           prompt,
		MaxTokens:        s.MaxTokens,
		Temperature:      s.Temperature,
		FrequencyPenalty: s.FrequencyPenalty,
		Seed:             s.Seed,
	})
	if err != nil {
		return "", &InferenceError{Stage: StageNarrate, Err: err}
	}
	slog.Debug("story generated (raw)", "text", gen.Text)
	slog.Info(
		"story generated",
		"elapsed", time.Since(start).String(),
		"inputTokens", gen.Usage.InputTokens,
		"outputTokens", gen.Usage.OutputTokens,
		"totalTokens", gen.Usage.TotalTokens,
	)
	return CleanStory(prompt, gen.Text), nil
}

// CleanStory strips an echoed prompt, the chat-turn markers the reply starts
// with, and any end-of-turn marker or trailing turn after the reply. It is
// idempotent.
func CleanStory(prompt, raw string) string {
	text := raw
	if prompt != "" {
		text = strings.Replace(text, prompt, "", 1)
	}
	text = stripLeadingTurns(strings.TrimSpace(text))
	text = cutAtTurnBoundary(text)
	return strings.TrimSpace(text)
}

// stripLeadingTurns drops the markers at the very start of text. The body of
// a system or user turn among them belongs to the template and goes too.
func stripLeadingTurns(text string) string {
	for {
		loc := turnMarker.FindStringIndex(text)
		if loc == nil || loc[0] != 0 {
			return text
		}
		role := markerName(text[:loc[1]])
		text = strings.TrimLeftFunc(text[loc[1]:], unicode.IsSpace)
		if templateRoles[role] {
			next := turnMarker.FindStringIndex(text)
			if next == nil {
				return ""
			}
			text = text[next[0]:]
		}
	}
}

// cutAtTurnBoundary ends text at the first marker that closes the reply or
// opens another turn. Other markers are left alone.
func cutAtTurnBoundary(text string) string {
	for _, loc := range turnMarker.FindAllStringIndex(text, -1) {
		if turnBoundaries[markerName(text[loc[0]:loc[1]])] {
			return text[:loc[0]]
		}
	}
	return text
}

func markerName(marker string) string {
	return strings.ToLower(strings.TrimSpace(marker[2 : len(marker)-2]))
}
