// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

type corpusFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadCorpusFile reads a YAML document list and indexes it into c.
//
//	documents:
//	  - id: refund-policy
//	    title: Refund policy
//	    content: Refunds are issued within 30 days.
//	    entities: [refund]
func (c *MemoryCorpus) LoadCorpusFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read corpus file: %w", err)
	}
	var file corpusFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse corpus file: %w", err)
	}
	for i := range file.Documents {
		d := &file.Documents[i]
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", c.Len()+i+1)
		}
		if d.Source == "" {
			d.Source = path
		}
	}
	if err = c.Add(ctx, file.Documents...); err != nil {
		return err
	}
	log.Infof("corpus loaded: %d documents from %s", len(file.Documents), path)
	return nil
}
