package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPEncoder calls an OpenAI-compatible embeddings endpoint, which is also
// what text-embeddings-inference and vLLM expose in front of
// projecte-aina/ST-NLI-ca_paraphrase-multilingual-mpnet-base.
type HTTPEncoder struct {
	URL    string
	APIKey string
	Model  string
	// Dims is the expected vector width. When zero it is learned from the first response.
	Dims int

	HTTPClient *http.Client

	learned atomic.Int64
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *HTTPEncoder) ModelID() string { return e.Model }

func (e *HTTPEncoder) Dimension() int {
	if e.Dims > 0 {
		return e.Dims
	}
	return int(e.learned.Load())
}

func (e *HTTPEncoder) Encode(ctx context.Context, phrases []string) ([][]float32, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	if e.URL == "" {
		return nil, Unavailable(fmt.Errorf("embeddings URL required"))
	}
	body, err := json.Marshal(embeddingRequest{Model: e.Model, Input: phrases})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer resp.Body.Close()

	var payload embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, Unavailable(fmt.Errorf("decode embeddings (status %d): %w", resp.StatusCode, err))
	}
	if payload.Error != nil {
		return nil, Unavailable(fmt.Errorf("embeddings error: %s", payload.Error.Message))
	}
	if resp.StatusCode >= 400 {
		return nil, Unavailable(fmt.Errorf("embeddings status %d", resp.StatusCode))
	}
	if len(payload.Data) != len(phrases) {
		return nil, Unavailable(fmt.Errorf("embeddings returned %d rows for %d inputs", len(payload.Data), len(phrases)))
	}

	out := make([][]float32, len(phrases))
	for _, d := range payload.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, Unavailable(fmt.Errorf("embeddings index %d out of range", d.Index))
		}
		if want := e.Dimension(); want > 0 && len(d.Embedding) != want {
			return nil, Unavailable(fmt.Errorf("embedding width %d, want %d", len(d.Embedding), want))
		}
		e.learned.CompareAndSwap(0, int64(len(d.Embedding)))
		Normalize(d.Embedding)
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *HTTPEncoder) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
