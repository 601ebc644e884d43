// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TokenizedInput is the model input for one sequence.
type TokenizedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// WordPieceTokenizer is a greedy longest-match WordPiece tokenizer for BERT vocabularies.
type WordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

// NewWordPieceTokenizer loads a one-token-per-line vocabulary. An empty path
// yields a tiny built-in vocabulary that is only useful for tests.
func NewWordPieceTokenizer(vocabPath string) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: make(map[string]int64)}
	if vocabPath == "" {
		for i, tok := range builtinVocab {
			t.vocab[tok] = int64(i)
		}
	} else {
		f, err := os.Open(vocabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vocabulary: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		var id int64
		for scanner.Scan() {
			t.vocab[scanner.Text()] = id
			id++
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read vocabulary: %w", err)
		}
	}
	for _, special := range []string{"[CLS]", "[SEP]", "[UNK]"} {
		if _, ok := t.vocab[special]; !ok {
			return nil, fmt.Errorf("vocabulary missing %s", special)
		}
	}
	t.cls, t.sep, t.unk = t.vocab["[CLS]"], t.vocab["[SEP]"], t.vocab["[UNK]"]
	return t, nil
}

// VocabSize returns the number of known tokens.
func (t *WordPieceTokenizer) VocabSize() int { return len(t.vocab) }

// Tokenize wraps the WordPiece ids of text in [CLS] ... [SEP], truncated to maxLength.
func (t *WordPieceTokenizer) Tokenize(text string, maxLength int) *TokenizedInput {
	if maxLength < 2 {
		maxLength = 2
	}
	ids := []int64{t.cls}
	for _, word := range splitPunct(strings.ToLower(text)) {
		ids = append(ids, t.wordPiece(word)...)
		if len(ids) >= maxLength-1 {
			ids = ids[:maxLength-1]
			break
		}
	}
	ids = append(ids, t.sep)

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return &TokenizedInput{InputIDs: ids, AttentionMask: mask, TokenTypeIDs: make([]int64, len(ids))}
}

func (t *WordPieceTokenizer) wordPiece(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}
	var out []int64
	runes := []rune(word)
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := false
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				out = append(out, id)
				matched = true
				break
			}
		}
		if !matched {
			// BERT maps the whole word to [UNK] when any piece is unknown.
			return []int64{t.unk}
		}
		start = end
	}
	return out
}

// splitPunct splits on whitespace and isolates punctuation as separate words.
func splitPunct(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

var builtinVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"what", "is", "our", "refund", "policy", "?", "compare", "with",
	"the", "a", "of", "and", "to", "in", "for",
	"polic", "##y", "##ies", "regulation", "##s", "california",
}
