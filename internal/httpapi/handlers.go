package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// withDefaults fills the tuning fields a request left unset.
func (s *Server) withDefaults(req terminology.Request) terminology.Request {
	if req.K == 0 {
		req.K = s.cfg.K
	}
	if req.Threshold == nil && s.cfg.Threshold > 0 {
		req.Threshold = terminology.Threshold(s.cfg.Threshold)
	}
	if req.ContextWindow == 0 {
		req.ContextWindow = s.cfg.ContextWindow
	}
	return req
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Health(c.Request.Context()))
}

func (s *Server) detect(c *gin.Context) {
	var req terminology.Request
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.engine.Detect(c.Request.Context(), s.withDefaults(req))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type batchRequest struct {
	Documents []terminology.Request `json:"documents"`
}

type batchItem struct {
	Index    int                   `json:"index"`
	Response *terminology.Response `json:"response,omitempty"`
	Code     string                `json:"code,omitempty"`
	Error    string                `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

func (s *Server) detectBatch(c *gin.Context) {
	var body batchRequest
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	switch n := len(body.Documents); {
	case n == 0:
		s.fail(c, fmt.Errorf("%w: no documents", internalerr.ErrInvalidInput))
		return
	case n > s.cfg.MaxBatch:
		s.fail(c, fmt.Errorf("%w: %d documents exceeds the batch limit of %d", internalerr.ErrInvalidInput, n, s.cfg.MaxBatch))
		return
	}
	reqs := make([]terminology.Request, len(body.Documents))
	for i, d := range body.Documents {
		reqs[i] = s.withDefaults(d)
	}

	results, err := s.engine.DetectBatch(c.Request.Context(), reqs)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := batchResponse{Results: make([]batchItem, len(results))}
	for i, r := range results {
		item := batchItem{Index: i}
		if r.Err != nil {
			_, item.Code = classify(r.Err)
			item.Error = r.Err.Error()
		} else {
			item.Response = r.Response
		}
		out.Results[i] = item
	}
	c.JSON(http.StatusOK, out)
}

type searchRequest struct {
	Candidates []string `json:"candidates"`
	K          int      `json:"k"`
	Threshold  *float64 `json:"threshold"`
}

// search answers with a bare array, one result per candidate.
func (s *Server) search(c *gin.Context) {
	var body searchRequest
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	if body.K == 0 {
		body.K = s.cfg.K
	}
	if body.Threshold == nil && s.cfg.Threshold > 0 {
		body.Threshold = terminology.Threshold(s.cfg.Threshold)
	}
	results, err := s.engine.Search(c.Request.Context(), body.Candidates, body.K, body.Threshold)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type candidatesRequest struct {
	Text          string `json:"text"`
	ContextWindow int    `json:"context_window"`
}

type candidatesResponse struct {
	Success      bool                        `json:"success"`
	Candidates   []terminology.TermCandidate `json:"candidates"`
	NLPModelUsed string                      `json:"nlp_model_used"`
	Degraded     bool                        `json:"degraded"`
}

func (s *Server) detectCandidates(c *gin.Context) {
	var body candidatesRequest
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	if body.ContextWindow == 0 {
		body.ContextWindow = s.cfg.ContextWindow
	}
	report, err := s.engine.Candidates(c.Request.Context(), body.Text, body.ContextWindow)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, candidatesResponse{
		Success:      true,
		Candidates:   report.Candidates,
		NLPModelUsed: report.Analyzer,
		Degraded:     report.Degraded,
	})
}

func (s *Server) entry(c *gin.Context) {
	e, err := s.engine.Entry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type vectorizeResponse struct {
	Success           bool   `json:"success"`
	GlossaryEntries   int    `json:"glossaryEntries"`
	VectorizedEntries int    `json:"vectorizedEntries"`
	EmbeddingModel    string `json:"embeddingModel"`
	VectorDimensions  int    `json:"vectorDimensions"`
	IndexType         string `json:"indexType"`
	ProcessingTime    string `json:"processingTime"`
	IndexSize         string `json:"indexSize"`
	Version           string `json:"version"`
}

// vectorize rebuilds the index from a posted glossary and serves it.
func (s *Server) vectorize(c *gin.Context) {
	if s.manager == nil {
		s.fail(c, fmt.Errorf("%w: index rebuilds are disabled", internalerr.ErrInvalidConfig))
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, err := glossary.FromRecords(data)
	if err != nil {
		if !errors.Is(err, internalerr.ErrSchema) && !errors.Is(err, internalerr.ErrInvalidInput) {
			err = fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
		}
		s.fail(c, err)
		return
	}
	if len(entries) == 0 {
		s.fail(c, fmt.Errorf("%w: no glossary data provided", internalerr.ErrInvalidInput))
		return
	}

	start := time.Now()
	snap, err := s.manager.RebuildFrom(c.Request.Context(), entries, "api")
	if err != nil {
		s.fail(c, err)
		return
	}
	st := snap.Stats()
	s.log.Info("glossary vectorized",
		logging.String("version", snap.Version),
		logging.Int("entries", st.Entries),
		logging.String("request_id", c.GetString(ctxRequestID)))
	c.JSON(http.StatusOK, vectorizeResponse{
		Success:           true,
		GlossaryEntries:   len(entries),
		VectorizedEntries: st.Entries,
		EmbeddingModel:    snap.ModelID,
		VectorDimensions:  snap.Dims,
		IndexType:         "flat-ip",
		ProcessingTime:    fmt.Sprintf("%.1fs", time.Since(start).Seconds()),
		IndexSize:         sizeString(int64(st.VectorRows) * int64(snap.Dims) * 4),
		Version:           snap.Version,
	})
}

func sizeString(n int64) string {
	if n > 1<<20 {
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	}
	return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
}

type reloadResponse struct {
	Success       bool   `json:"success"`
	Version       string `json:"version"`
	VariantsCount int    `json:"variants_count"`
	Entries       int    `json:"entries"`
}

// reload rebuilds from the configured glossary file.
func (s *Server) reload(c *gin.Context) {
	if s.manager == nil || s.manager.GlossaryPath == "" {
		s.fail(c, fmt.Errorf("%w: no glossary file to reload", internalerr.ErrInvalidConfig))
		return
	}
	snap, err := s.manager.Rebuild(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	st := snap.Stats()
	c.JSON(http.StatusOK, reloadResponse{
		Success:       true,
		Version:       snap.Version,
		VariantsCount: st.Variants,
		Entries:       st.Entries,
	})
}
