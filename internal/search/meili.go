// Package search indexes matter paths and entry descriptions in
// Meilisearch. The index is an acceleration layer only: the service
// re-checks visibility per hit and falls back to the store's pattern
// search when the index is down.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"sentinel/api/pkg/logger"
)

const (
	idxMatters = "sentinel_matters"
	idxEntries = "sentinel_entries"
)

// MatterRecord is one indexed matter.
type MatterRecord struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Path    string `json:"path"`
	Code    string `json:"code"`
}

// EntryRecord is one indexed time entry.
type EntryRecord struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	Description string `json:"description"`
}

// Meili wraps the Meilisearch client with a background health monitor.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the indices. The returned
// instance is usable even when Meilisearch is down; it reports
// unhealthy until the monitor sees it recover.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))
	m := &Meili{client: client, done: make(chan struct{})}

	if _, err := client.Health(); err != nil {
		logger.Get().Warn().Err(err).Str("url", url).Msg("meilisearch unavailable, using store fallback")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	for uid, searchable := range map[string][]string{
		idxMatters: {"path", "code"},
		idxEntries: {"description"},
	} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: uid, PrimaryKey: "id"}); err != nil {
			logger.Get().Debug().Err(err).Str("index", uid).Msg("create index (may already exist)")
		}
		attrs := searchable
		if _, err := m.client.Index(uid).UpdateSearchableAttributes(&attrs); err != nil {
			logger.Get().Warn().Err(err).Str("index", uid).Msg("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logger.Get().Info().Msg("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexMatter adds or updates one matter in the index.
func (m *Meili) IndexMatter(ctx context.Context, id, ownerID int64, path, code string) error {
	_, err := m.client.Index(idxMatters).AddDocuments([]MatterRecord{{
		ID: id, OwnerID: ownerID, Path: path, Code: code,
	}}, nil)
	if err != nil {
		return fmt.Errorf("index matter %d: %w", id, err)
	}
	return nil
}

// RemoveMatter drops a matter from the index.
func (m *Meili) RemoveMatter(ctx context.Context, id int64) error {
	_, err := m.client.Index(idxMatters).DeleteDocument(strconv.FormatInt(id, 10), nil)
	if err != nil {
		return fmt.Errorf("remove matter %d: %w", id, err)
	}
	return nil
}

// IndexEntry adds or updates one time entry in the index.
func (m *Meili) IndexEntry(ctx context.Context, id, ownerID int64, description string) error {
	_, err := m.client.Index(idxEntries).AddDocuments([]EntryRecord{{
		ID: id, OwnerID: ownerID, Description: description,
	}}, nil)
	if err != nil {
		return fmt.Errorf("index entry %d: %w", id, err)
	}
	return nil
}

// RemoveEntry drops a time entry from the index.
func (m *Meili) RemoveEntry(ctx context.Context, id int64) error {
	_, err := m.client.Index(idxEntries).DeleteDocument(strconv.FormatInt(id, 10), nil)
	if err != nil {
		return fmt.Errorf("remove entry %d: %w", id, err)
	}
	return nil
}

// Search returns matching matter ids. Hits carry no authorization; the
// caller filters them through the scope resolver.
func (m *Meili) Search(ctx context.Context, query string, limit int) ([]int64, error) {
	return m.search(idxMatters, query, limit)
}

// SearchEntries returns matching time entry ids, same contract as
// Search.
func (m *Meili) SearchEntries(ctx context.Context, query string, limit int) ([]int64, error) {
	return m.search(idxEntries, query, limit)
}

func (m *Meili) search(uid, query string, limit int) ([]int64, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(uid).Search(query, &meili.SearchRequest{Limit: int64(limit)})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]int64, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id, ok := decodeID(hit); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func decodeID(hit meili.Hit) (int64, bool) {
	raw, ok := hit["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}
