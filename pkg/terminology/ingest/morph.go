package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// MorphClient calls a morphological analysis sidecar that wraps a spaCy
// pipeline (ca_core_news_trf, or ca_core_news_sm on smaller hosts).
//
//	POST {BaseURL}/analyze  {"text": "..."}
//	  -> {"model": "ca_core_news_trf", "tokens": [{"text","lemma","pos","start","end"}]}
//	GET  {BaseURL}/health   -> {"model": "ca_core_news_trf"}
//
// Token offsets from the sidecar are character offsets; they are converted to
// byte offsets before being returned.
type MorphClient struct {
	BaseURL string
	Model   string

	HTTPClient *http.Client
}

type morphRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type morphToken struct {
	Text  string `json:"text"`
	Lemma string `json:"lemma"`
	POS   string `json:"pos"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type morphResponse struct {
	Model  string       `json:"model"`
	Tokens []morphToken `json:"tokens"`
	Error  string       `json:"error"`
}

func (c *MorphClient) Name() string {
	if c.Model != "" {
		return c.Model
	}
	return "morph"
}

// Ready checks the sidecar health endpoint and records the served model name.
func (c *MorphClient) Ready(ctx context.Context) error {
	if c.BaseURL == "" {
		return fmt.Errorf("morph: base URL required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("morph: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("morph: health returned %d", resp.StatusCode)
	}
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Model != "" && c.Model == "" {
		c.Model = payload.Model
	}
	return nil
}

// Analyze sends text to the sidecar. The returned sequence replays the
// fetched tokens; the text is analyzed once per call.
func (c *MorphClient) Analyze(ctx context.Context, text string) (iter.Seq[Token], error) {
	body, err := json.Marshal(morphRequest{Text: text, Model: c.Model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("morph: %w", err)
	}
	defer resp.Body.Close()

	var payload morphResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("morph: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || payload.Error != "" {
		return nil, fmt.Errorf("morph: status %d: %s", resp.StatusCode, payload.Error)
	}

	tokens, err := toByteOffsets(text, payload.Tokens)
	if err != nil {
		return nil, err
	}
	return slices.Values(tokens), nil
}

func toByteOffsets(text string, in []morphToken) ([]Token, error) {
	// runeStart[i] is the byte offset of rune i; the extra slot holds len(text).
	runeStart := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		runeStart = append(runeStart, i)
	}
	runeStart = append(runeStart, len(text))

	out := make([]Token, 0, len(in))
	for _, mt := range in {
		if mt.Start < 0 || mt.End < mt.Start || mt.End >= len(runeStart) {
			return nil, fmt.Errorf("morph: token %q has offsets [%d,%d) outside text", mt.Text, mt.Start, mt.End)
		}
		start, end := runeStart[mt.Start], runeStart[mt.End]
		if strings.TrimSpace(mt.Text) == "" {
			continue
		}
		out = append(out, Token{
			Surface: text[start:end],
			Lemma:   strings.ToLower(mt.Lemma),
			POS:     strings.ToUpper(mt.POS),
			Start:   start,
			End:     end,
		})
	}
	return out, nil
}

func (c *MorphClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
