// Package fallback is the generative tier: a chat model reads the whole
// document when the deterministic tiers found nothing. Its output is
// advisory and never verified against the glossary.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/optim-dev/aina/internal/llm"
	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// Finding is one issue reported by the model.
type Finding struct {
	SurfaceText   string  `json:"surface_text"`
	IssueKind     string  `json:"issue_kind"`
	SuggestedTerm string  `json:"suggested_term,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// Detector is the generative fallback port.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Finding, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, text string) ([]Finding, error)

func (f DetectorFunc) Detect(ctx context.Context, text string) ([]Finding, error) { return f(ctx, text) }

// Chatter is the part of llm.Client the detector needs.
type Chatter interface {
	Chat(ctx context.Context, system, user string, opts ...llm.ChatOption) (string, error)
}

const (
	DefaultTimeout  = 20 * time.Second
	DefaultMaxChars = 6000
)

const systemPrompt = `Ets un revisor terminològic de textos administratius en català.
Troba termes no normatius, col·loquials o castellanismes i proposa'n la forma normativa.
No corregeixis ortografia ni gramàtica general i no reescriguis el text.
Copia cada terme exactament com apareix al text a "surface_text".
"issue_kind" és un de: castellanisme, col·loquial, no_normatiu, registre.
Si no hi ha cap problema, retorna una llista buida.`

var findingsSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["findings"],
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["surface_text", "issue_kind", "suggested_term", "confidence"],
        "properties": {
          "surface_text": {"type": "string"},
          "issue_kind": {"type": "string"},
          "suggested_term": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`)

// LLMDetector asks a chat model for findings in a structured JSON reply.
// Each attempt gets its own timeout and a transient failure is retried once.
type LLMDetector struct {
	Client   Chatter
	Log      logging.Logger
	Timeout  time.Duration
	Backoff  time.Duration
	MaxChars int
	// Retries is the number of extra attempts after a transient failure. Negative disables retrying.
	Retries int
}

// NewLLMDetector returns a detector with default timeout and one retry.
func NewLLMDetector(client Chatter, log logging.Logger) *LLMDetector {
	return &LLMDetector{Client: client, Log: log, Timeout: DefaultTimeout, Backoff: 250 * time.Millisecond, Retries: 1}
}

func (d *LLMDetector) Detect(ctx context.Context, text string) ([]Finding, error) {
	log := logging.OrDefault(d.Log).Named("fallback")
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := max(d.Retries, 0)
	user := "Text:\n" + truncate(text, d.maxChars())

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying generative fallback", logging.Int("attempt", attempt+1), logging.Err(lastErr))
			if err := sleep(ctx, d.Backoff); err != nil {
				return nil, classify(err)
			}
		}
		actx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := d.Client.Chat(actx, systemPrompt, user, llm.WithJSONSchema("terminology_findings", findingsSchema), llm.WithTemperature(0))
		cancel()
		if err == nil {
			findings, perr := Parse(reply)
			if perr != nil {
				return nil, fmt.Errorf("%w: %w", internalerr.ErrFallback, perr)
			}
			return findings, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, classify(ctx.Err())
		}
		if !llm.IsTransient(err) {
			break
		}
	}
	return nil, classify(lastErr)
}

func (d *LLMDetector) maxChars() int {
	if d.MaxChars > 0 {
		return d.MaxChars
	}
	return DefaultMaxChars
}

// Parse decodes a model reply, tolerating markdown fences and a bare array.
// Findings without surface text are dropped and confidences are clamped to [0,1].
func Parse(reply string) ([]Finding, error) {
	body := llm.StripFences(reply)
	var wrapped struct {
		Findings []Finding `json:"findings"`
	}
	var findings []Finding
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &findings); err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
	} else {
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
		findings = wrapped.Findings
	}

	out := findings[:0]
	for _, f := range findings {
		f.SurfaceText = strings.TrimSpace(f.SurfaceText)
		f.SuggestedTerm = strings.TrimSpace(f.SuggestedTerm)
		if f.SurfaceText == "" {
			continue
		}
		f.Confidence = min(max(f.Confidence, 0), 1)
		out = append(out, f)
	}
	return out, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", internalerr.ErrFallbackTimeout, err)
	}
	return fmt.Errorf("%w: %w", internalerr.ErrFallback, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
