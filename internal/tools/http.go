// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// maxResponseBytes caps how much of an external response is read.
const maxResponseBytes = 8 << 20

// HTTPTool calls a JSON endpoint and maps its response into items.
type HTTPTool struct {
	cfg    config.ExternalToolConfig
	client *http.Client
}

// NewHTTPTool builds an external tool from cfg. A nil client uses http.DefaultClient.
func NewHTTPTool(cfg config.ExternalToolConfig, client *http.Client) *Tool {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.QueryPath == "" {
		cfg.QueryPath = "query"
	}
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = "results"
	}
	if cfg.TitlePath == "" {
		cfg.TitlePath = "title"
	}
	if cfg.ContentPath == "" {
		cfg.ContentPath = "content"
	}
	if cfg.SourcePath == "" {
		cfg.SourcePath = "url"
	}
	h := &HTTPTool{cfg: cfg, client: client}
	t := &Tool{
		Name:        cfg.Name,
		Description: cfg.Description,
		Kind:        KindExternal,
		Run:         h.Run,
		Timeout:     cfg.Timeout,
	}
	return t.WithRateLimit(cfg.RateLimit, cfg.Burst)
}

// Run performs one request.
func (h *HTTPTool) Run(ctx context.Context, args Args) ([]Item, error) {
	req, err := h.buildRequest(ctx, args)
	if err != nil {
		return nil, PermanentError(h.cfg.Name, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, TransientError(h.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, TransientError(h.cfg.Name, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.RateLimited("tool "+h.cfg.Name, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return nil, TransientError(h.cfg.Name, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode >= 400:
		return nil, PermanentError(h.cfg.Name, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	if !gjson.ValidBytes(body) {
		return nil, PermanentError(h.cfg.Name, fmt.Errorf("response is not JSON"))
	}
	return h.extract(body, args), nil
}

func (h *HTTPTool) buildRequest(ctx context.Context, args Args) (*http.Request, error) {
	method := strings.ToUpper(h.cfg.Method)
	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		u, errParse := url.Parse(h.cfg.URL)
		if errParse != nil {
			return nil, fmt.Errorf("invalid url: %w", errParse)
		}
		q := u.Query()
		q.Set(h.cfg.QueryPath, args.Query)
		if args.TopK > 0 {
			q.Set("limit", fmt.Sprint(args.TopK))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		payload, errSet := sjson.SetBytes([]byte(`{}`), h.cfg.QueryPath, args.Query)
		if errSet != nil {
			return nil, fmt.Errorf("build body: %w", errSet)
		}
		if args.TopK > 0 {
			payload, _ = sjson.SetBytes(payload, "limit", args.TopK)
		}
		for k, v := range args.Filters {
			payload, _ = sjson.SetBytes(payload, "filters."+k, v)
		}
		req, err = http.NewRequestWithContext(ctx, method, h.cfg.URL, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, zstd, gzip")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (h *HTTPTool) extract(body []byte, args Args) []Item {
	results := gjson.GetBytes(body, h.cfg.ResultsPath)
	var items []Item
	results.ForEach(func(_, r gjson.Result) bool {
		content := r.Get(h.cfg.ContentPath).String()
		if content == "" {
			return true
		}
		score := 1.0 / float64(len(items)+1)
		if s := r.Get("score"); s.Exists() {
			score = s.Float()
		}
		items = append(items, Item{
			ID:      r.Get("id").String(),
			Title:   r.Get(h.cfg.TitlePath).String(),
			Content: content,
			Source:  r.Get(h.cfg.SourcePath).String(),
			Score:   score,
		})
		return args.TopK <= 0 || len(items) < args.TopK
	})
	return items
}

// decodeBody reads resp.Body honoring Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = io.LimitReader(resp.Body, maxResponseBytes)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(r)
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, maxResponseBytes))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
