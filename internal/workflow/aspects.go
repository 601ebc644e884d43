// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"regexp"
	"strings"
)

var (
	comparePattern    = regexp.MustCompile(`(?i)^\s*(?:compare|contrast)\s+(.+?)\s+(?:with|to|and|against|versus|vs\.?)\s+(.+?)[\s?.!]*$`)
	differencePattern = regexp.MustCompile(`(?i)differences?\s+between\s+(.+?)\s+and\s+(.+?)[\s?.!]*$`)
	versusPattern     = regexp.MustCompile(`(?i)\s+(?:vs\.?|versus|compared to)\s+`)
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true, "on": true,
	"for": true, "and": true, "or": true, "is": true, "are": true, "was": true, "be": true,
	"what": true, "which": true, "who": true, "how": true, "why": true, "when": true,
	"does": true, "do": true, "our": true, "my": true, "with": true, "about": true,
	"please": true, "tell": true, "me": true, "can": true, "you": true,
}

// SplitAspects breaks a comparative question into the sub-questions that each need
// their own evidence. Anything else is a single aspect.
func SplitAspects(query string) []string {
	q := strings.TrimSpace(query)
	for _, re := range []*regexp.Regexp{comparePattern, differencePattern} {
		if m := re.FindStringSubmatch(q); m != nil {
			return nonEmpty(m[1], m[2], q)
		}
	}
	if parts := versusPattern.Split(q, -1); len(parts) > 1 {
		return nonEmpty(append(parts, q)...)
	}
	return []string{q}
}

// nonEmpty trims parts and drops blanks. The last argument is the fallback when
// fewer than two parts survive.
func nonEmpty(parts ...string) []string {
	fallback := parts[len(parts)-1]
	var out []string
	for _, p := range parts[:len(parts)-1] {
		p = strings.Trim(strings.TrimSpace(p), "?.!")
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return []string{fallback}
	}
	return out
}

// KeywordForm strips question words so the query matches passages, not questions.
func KeywordForm(query string) string {
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!;:'\"()")
		if w == "" || stopWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "\"' ")
}
