// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock returns deterministic responses for local runs and tests.
// A response is chosen by the first configured key contained in the prompt.
type Mock struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	errs            []error
	calls           int
	prompts         []string
}

// NewMock creates a mock generator.
func NewMock(responses map[string]string, defaultResponse string) *Mock {
	if responses == nil {
		responses = map[string]string{}
	}
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &Mock{responses: responses, defaultResponse: defaultResponse}
}

// FailNext queues errors returned by the next calls, in order.
func (m *Mock) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Calls returns how many times Generate ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt received.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Classify(m.Name(), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	for key, resp := range m.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return fmt.Sprintf("%s %s", m.defaultResponse, firstLine(prompt)), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
