// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// MiniLMDimension is the output dimension of all-MiniLM-L6-v2.
	MiniLMDimension = 384

	// MaxSequenceLength is the maximum input sequence length.
	MaxSequenceLength = 256
)

// ONNXConfig locates the model, vocabulary and runtime library.
type ONNXConfig struct {
	ModelPath         string
	VocabPath         string
	SharedLibraryPath string
}

// ONNXProvider runs a MiniLM sentence-embedding model in-process via ONNX Runtime.
// Inference is serialized: the session is not safe for concurrent Run calls.
type ONNXProvider struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *WordPieceTokenizer
	modelPath string
	mu        sync.Mutex
}

// NewONNXProvider loads the model and vocabulary. The ONNX environment is
// process-wide, so only one provider should be created per process.
func NewONNXProvider(cfg ONNXConfig) (*ONNXProvider, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx model file not found: %w", err)
	}
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load ONNX model: %w", err)
	}

	tok, err := NewWordPieceTokenizer(cfg.VocabPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	log.Infof("onnx embedding provider ready: %s", filepath.Base(cfg.ModelPath))
	return &ONNXProvider{session: session, tokenizer: tok, modelPath: cfg.ModelPath}, nil
}

func (p *ONNXProvider) Name() string   { return "onnx:" + filepath.Base(p.modelPath) }
func (p *ONNXProvider) Dimension() int { return MiniLMDimension }

// Embed tokenizes text, runs the model and mean-pools the hidden state.
func (p *ONNXProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	in := p.tokenizer.Tokenize(text, MaxSequenceLength)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, unavailable(fmt.Errorf("onnx provider closed"))
	}
	vec, err := p.run(in)
	if err != nil {
		return nil, unavailable(err)
	}
	return vec, nil
}

func (p *ONNXProvider) run(in *TokenizedInput) ([]float32, error) {
	seqLen := int64(len(in.InputIDs))
	shape := ort.NewShape(1, seqLen)

	ids, err := ort.NewTensor(shape, in.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(shape, in.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer mask.Destroy()
	segments, err := ort.NewTensor(shape, in.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer segments.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, MiniLMDimension))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := p.session.Run([]ort.Value{ids, mask, segments}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}
	return L2Normalize(MeanPool(out.GetData(), in.AttentionMask, MiniLMDimension)), nil
}

// MeanPool averages token vectors of a [seq, dim] row-major buffer, weighted by mask.
func MeanPool(hidden []float32, mask []int64, dim int) []float32 {
	pooled := make([]float32, dim)
	var count float32
	for i, m := range mask {
		if m != 1 {
			continue
		}
		row := hidden[i*dim : (i+1)*dim]
		for j, v := range row {
			pooled[j] += v
		}
		count++
	}
	if count > 0 {
		for j := range pooled {
			pooled[j] /= count
		}
	}
	return pooled
}

// Close releases the ONNX session.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
