// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sparse

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

var tracer = otel.Tracer("aleutian.triage.sparse")

// Client serves BM25 queries from a loaded artefact.
//
// # Thread Safety
//
// Safe for concurrent use. Searches take a read lock; the watcher's
// reload takes the write lock, so an in-flight search always sees a
// consistent artefact.
type Client struct {
	mu       sync.RWMutex
	artifact *Artifact
	path     string
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewClient loads the artefact at path. When watch is true the client
// reloads whenever an offline rebuild swaps the file.
func NewClient(path string, watch bool, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	logger.Info("sparse index loaded",
		"path", path,
		"documents", len(artifact.Documents),
		"created_at", artifact.CreatedAt)

	c := &Client{artifact: artifact, path: path, logger: logger}
	if watch {
		if err := c.startWatcher(); err != nil {
			// Watching is an optimization; a client that cannot watch
			// still serves the loaded artefact.
			logger.Warn("artefact watcher unavailable", "error", err)
		}
	}
	return c, nil
}

// Search runs a BM25 query and returns up to k results. Scores are raw
// BM25 values; callers fuse by rank, not magnitude.
func (c *Client) Search(ctx context.Context, query string, k int) ([]datatypes.SearchResult, error) {
	_, span := tracer.Start(ctx, "SparseSearch")
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.artifact.BM25.TopN(query, k)
	results := make([]datatypes.SearchResult, 0, len(hits))
	for _, hit := range hits {
		md := c.artifact.Metadata[hit.Index]
		id, _ := md["doc_id"].(string)
		if id == "" {
			id = fmt.Sprintf("sparse-%d", hit.Index)
		}
		results = append(results, datatypes.SearchResult{
			ID:       id,
			Score:    hit.Score,
			Text:     c.artifact.Documents[hit.Index],
			Metadata: md,
		})
	}
	return results, nil
}

// DocumentCount reports the number of indexed documents.
func (c *Client) DocumentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.artifact.Documents)
}

// Close stops the artefact watcher, if running.
func (c *Client) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

func (c *Client) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: atomic rename replaces the inode, so a watch
	// on the file itself would go stale after the first swap.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher
	c.done = make(chan struct{})

	go func() {
		base := filepath.Base(c.path)
		for {
			select {
			case <-c.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				c.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("artefact watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (c *Client) reload() {
	artifact, err := LoadArtifact(c.path)
	if err != nil {
		c.logger.Warn("artefact reload failed, keeping previous index", "error", err)
		return
	}
	c.mu.Lock()
	c.artifact = artifact
	c.mu.Unlock()
	c.logger.Info("sparse index reloaded", "documents", len(artifact.Documents))
}
