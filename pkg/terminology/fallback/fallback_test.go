package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/internal/llm"
	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

type scriptedChat struct {
	replies []string
	errs    []error
	calls   int
	block   bool
}

func (s *scriptedChat) Chat(ctx context.Context, _, user string, _ ...llm.ChatOption) (string, error) {
	i := s.calls
	s.calls++
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return `{"findings":[]}`, nil
}

func newDetector(c Chatter) *LLMDetector {
	d := NewLLMDetector(c, logging.NewNop())
	d.Backoff = 0
	return d
}

func TestDetectParsesFencedReply(t *testing.T) {
	chat := &scriptedChat{replies: []string{"```json\n" +
		`{"findings":[{"surface_text":" demanar un permís ","issue_kind":"registre","suggested_term":"sol·licitar","confidence":1.4},{"surface_text":"","issue_kind":"x","confidence":0.5}]}` +
		"\n```"}}
	findings, err := newDetector(chat).Detect(context.Background(), "Cal demanar un permís.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, Finding{SurfaceText: "demanar un permís", IssueKind: "registre", SuggestedTerm: "sol·licitar", Confidence: 1}, findings[0])
	assert.Equal(t, 1, chat.calls)
}

func TestDetectRetriesTransientOnce(t *testing.T) {
	chat := &scriptedChat{
		errs:    []error{&llm.StatusError{Code: 503}},
		replies: []string{"", `[{"surface_text":"agotar","issue_kind":"castellanisme","confidence":0.7}]`},
	}
	findings, err := newDetector(chat).Detect(context.Background(), "agotar")
	require.NoError(t, err)
	assert.Len(t, findings, 1)
	assert.Equal(t, 2, chat.calls)
}

func TestDetectGivesUpAfterOneRetry(t *testing.T) {
	chat := &scriptedChat{errs: []error{&llm.StatusError{Code: 429}, &llm.StatusError{Code: 502}, nil}}
	_, err := newDetector(chat).Detect(context.Background(), "x")
	assert.ErrorIs(t, err, internalerr.ErrFallback)
	assert.Equal(t, 2, chat.calls)
}

func TestDetectDoesNotRetryPermanentErrors(t *testing.T) {
	chat := &scriptedChat{errs: []error{&llm.StatusError{Code: 400, Message: "bad schema"}}}
	_, err := newDetector(chat).Detect(context.Background(), "x")
	assert.ErrorIs(t, err, internalerr.ErrFallback)
	assert.Contains(t, err.Error(), "bad schema")
	assert.Equal(t, 1, chat.calls)
}

func TestDetectTimeoutPerAttempt(t *testing.T) {
	chat := &scriptedChat{block: true}
	d := newDetector(chat)
	d.Timeout = 10 * time.Millisecond

	start := time.Now()
	_, err := d.Detect(context.Background(), "x")
	assert.ErrorIs(t, err, internalerr.ErrFallbackTimeout)
	assert.Equal(t, 2, chat.calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDetectCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat := &scriptedChat{block: true}
	_, err := newDetector(chat).Detect(ctx, "x")
	assert.ErrorIs(t, err, internalerr.ErrFallback)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, chat.calls)
}

func TestDetectMalformedReply(t *testing.T) {
	chat := &scriptedChat{replies: []string{"no JSON here"}}
	_, err := newDetector(chat).Detect(context.Background(), "x")
	assert.ErrorIs(t, err, internalerr.ErrFallback)
	assert.False(t, errors.Is(err, internalerr.ErrFallbackTimeout))
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(context.Context, string) ([]Finding, error) {
		return []Finding{{SurfaceText: "x"}}, nil
	})
	out, err := d.Detect(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "sol·", truncate("sol·licitud", 4))
	assert.Equal(t, "via", truncate("via", 10))
}
