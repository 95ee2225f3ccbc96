package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/screenflow/llm"
)

// ErrMalformedResponse indicates the extractor returned output that is not a
// JSON object. It is recovered by substituting DefaultCandidate.
var ErrMalformedResponse = errors.New("malformed extraction response")

// ExtractionPrompt instructs the model to return job-relevant fields only.
const ExtractionPrompt = `You are a CV extraction system used for candidate screening.
Extract only information RELEVANT TO THE JOB.
Do not extract or infer age, gender, religion, ethnicity or marital status.
Return bare JSON only (no markdown) and add no commentary:
{"name": str|null, "email": str|null, "years_experience": number|null, "skills": [str], "roles": [str], "projects": [str], "education": str|null}
Use null or [] for anything missing.
Remember: return only the bare JSON, with no explanation.`

// ExtractResult is the outcome of an extraction. When the model reply could
// not be parsed, Err wraps ErrMalformedResponse and Extracted holds
// DefaultCandidate.
type ExtractResult struct {
	Extracted map[string]any
	Raw       string
	Err       error
}

// Malformed reports whether the reply was replaced by the default candidate.
func (r ExtractResult) Malformed() bool {
	return errors.Is(r.Err, ErrMalformedResponse)
}

// Extractor turns free-text CVs into structured candidate records. A
// returned error means the extraction could not be attempted at all and
// aborts the pipeline burst.
type Extractor interface {
	Extract(ctx context.Context, cvText string) (ExtractResult, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, cvText string) (ExtractResult, error)

func (f ExtractorFunc) Extract(ctx context.Context, cvText string) (ExtractResult, error) {
	return f(ctx, cvText)
}

// DefaultCandidate is the empty record used when extraction output is
// unusable.
func DefaultCandidate() map[string]any {
	return map[string]any{
		"name":             nil,
		"email":            nil,
		"years_experience": nil,
		"skills":           []any{},
		"roles":            []any{},
		"projects":         []any{},
		"education":        nil,
	}
}

// ParseExtraction parses a model reply into a candidate record. A reply
// wrapped in a markdown code fence is accepted.
func ParseExtraction(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedResponse)
	}
	return out, nil
}

// NewExtractResult parses raw into an ExtractResult, falling back to
// DefaultCandidate when it is malformed.
func NewExtractResult(raw string) ExtractResult {
	extracted, err := ParseExtraction(raw)
	if err != nil {
		return ExtractResult{Extracted: DefaultCandidate(), Raw: raw, Err: err}
	}
	return ExtractResult{Extracted: extracted, Raw: raw}
}

// Completer sends chat messages to a language model.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
}

// LLMExtractor extracts candidates with a chat completion model.
type LLMExtractor struct {
	client Completer
	prompt string
}

// NewLLMExtractor returns an extractor using the given completion client.
func NewLLMExtractor(client Completer) *LLMExtractor {
	return &LLMExtractor{client: client, prompt: ExtractionPrompt}
}

func (e *LLMExtractor) Extract(ctx context.Context, cvText string) (ExtractResult, error) {
	completion, err := e.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: e.prompt},
		{Role: llm.RoleUser, Content: cvText},
	})
	if err != nil {
		return ExtractResult{}, fmt.Errorf("extraction request failed: %w", err)
	}
	return NewExtractResult(completion.Content), nil
}
