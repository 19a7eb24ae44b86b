package embed

import (
	"context"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig points at an exported sentence-transformer.
type ONNXConfig struct {
	ModelPath     string // model.onnx
	TokenizerPath string // tokenizer.json
	SharedLibrary string // path to libonnxruntime; empty uses the platform default
	ModelID       string
	Dims          int
	MaxTokens     int
	// InputNames defaults to input_ids + attention_mask. Add token_type_ids for BERT exports.
	InputNames []string
	OutputName string
}

// ONNXEncoder runs a sentence-transformer locally: HuggingFace tokenization,
// one onnxruntime pass per batch, attention-masked mean pooling.
type ONNXEncoder struct {
	cfg     ONNXConfig
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// NewONNXEncoder loads the tokenizer and creates the inference session.
func NewONNXEncoder(cfg ONNXConfig) (*ONNXEncoder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, Unavailable(fmt.Errorf("onnx: model and tokenizer paths required"))
	}
	if cfg.Dims <= 0 {
		return nil, Unavailable(fmt.Errorf("onnx: dims required"))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	if len(cfg.InputNames) == 0 {
		cfg.InputNames = []string{"input_ids", "attention_mask"}
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "last_hidden_state"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = cfg.ModelPath
	}

	if cfg.SharedLibrary != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, Unavailable(fmt.Errorf("onnx: init runtime: %w", err))
		}
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("onnx: load tokenizer: %w", err))
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, cfg.InputNames, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("onnx: create session: %w", err))
	}
	return &ONNXEncoder{cfg: cfg, tk: tk, session: session}, nil
}

func (e *ONNXEncoder) Dimension() int { return e.cfg.Dims }

func (e *ONNXEncoder) ModelID() string { return e.cfg.ModelID }

// Close releases the inference session.
func (e *ONNXEncoder) Close() error {
	return e.session.Destroy()
}

func (e *ONNXEncoder) Encode(ctx context.Context, phrases []string) ([][]float32, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}

	ids, mask, seqLen, err := e.tokenize(phrases)
	if err != nil {
		return nil, Unavailable(err)
	}
	batch := int64(len(phrases))
	shape := ort.NewShape(batch, int64(seqLen))

	inputs := make([]ort.Value, 0, len(e.cfg.InputNames))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, name := range e.cfg.InputNames {
		data := ids
		switch name {
		case "attention_mask":
			data = mask
		case "token_type_ids":
			data = make([]int64, len(ids))
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, Unavailable(fmt.Errorf("onnx: input %s: %w", name, err))
		}
		inputs = append(inputs, t)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, int64(seqLen), int64(e.cfg.Dims)))
	if err != nil {
		return nil, Unavailable(fmt.Errorf("onnx: output tensor: %w", err))
	}
	defer output.Destroy()

	if err := e.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, Unavailable(fmt.Errorf("onnx: run: %w", err))
	}
	return meanPool(output.GetData(), mask, len(phrases), seqLen, e.cfg.Dims), nil
}

// tokenize encodes the batch and pads it to its longest sequence.
func (e *ONNXEncoder) tokenize(phrases []string) (ids, mask []int64, seqLen int, err error) {
	encoded := make([][]int, len(phrases))
	for i, p := range phrases {
		en, err := e.tk.EncodeSingle(p, true)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("onnx: tokenize %q: %w", p, err)
		}
		encoded[i] = en.Ids
		if len(encoded[i]) > e.cfg.MaxTokens {
			encoded[i] = encoded[i][:e.cfg.MaxTokens]
		}
		seqLen = max(seqLen, len(encoded[i]))
	}
	seqLen = max(seqLen, 1)

	ids = make([]int64, len(phrases)*seqLen)
	mask = make([]int64, len(phrases)*seqLen)
	for i, row := range encoded {
		for j, id := range row {
			ids[i*seqLen+j] = int64(id)
			mask[i*seqLen+j] = 1
		}
	}
	return ids, mask, seqLen, nil
}

// meanPool averages hidden states over unmasked positions and normalizes each row.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		vec := make([]float32, dim)
		var n float32
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] == 0 {
				continue
			}
			n++
			base := (b*seqLen + s) * dim
			for d := 0; d < dim; d++ {
				vec[d] += hidden[base+d]
			}
		}
		if n > 0 {
			for d := range vec {
				vec[d] /= n
			}
		}
		Normalize(vec)
		out[b] = vec
	}
	return out
}
