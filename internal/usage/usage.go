// Package usage records token consumption across providers, models, stages
// and runs, persisted as JSON alongside the pipeline output.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenCounts accumulates token totals for one key.
type TokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
	Calls  int `json:"calls"`
}

// Add records one call's tokens.
func (c *TokenCounts) Add(input, output int) {
	c.Input += input
	c.Output += output
	c.Total += input + output
	c.Calls++
}

// AggregatedStats breaks totals down along each reporting axis.
type AggregatedStats struct {
	Overall    TokenCounts            `json:"overall"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByStage    map[string]TokenCounts `json:"by_stage"`
	ByRun      map[string]TokenCounts `json:"by_run"`
}

// Data is the persisted document.
type Data struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// Tracker accumulates usage in memory and persists it on demand. Loading an
// existing file merges this run's usage into the historical totals.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
	runID    string
}

// NewTracker creates a tracker persisting to filePath, tagging this run's
// usage with runID. Existing data at filePath is loaded; a corrupt file
// starts fresh rather than failing the run.
func NewTracker(filePath, runID string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath: filePath,
		runID:    runID,
		data: Data{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByProvider: make(map[string]TokenCounts),
				ByModel:    make(map[string]TokenCounts),
				ByStage:    make(map[string]TokenCounts),
				ByRun:      make(map[string]TokenCounts),
			},
		},
	}
	t.load()
	return t, nil
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.filePath)
	if err != nil {
		return
	}
	var loaded Data
	if err := json.Unmarshal(data, &loaded); err != nil {
		return
	}
	t.data = loaded
	if t.data.Aggregate.ByProvider == nil {
		t.data.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByStage == nil {
		t.data.Aggregate.ByStage = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByRun == nil {
		t.data.Aggregate.ByRun = make(map[string]TokenCounts)
	}
}

// Track records one generation call.
func (t *Tracker) Track(provider, model, stage string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Overall.Add(input, output)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByStage, stage, input, output)
	addToMap(t.data.Aggregate.ByRun, t.runID, input, output)
}

// Save writes the accumulated usage to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage data: %w", err)
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write usage data: %w", err)
	}
	return nil
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByStage = copyTokenCountsMap(stats.ByStage)
	stats.ByRun = copyTokenCountsMap(stats.ByRun)
	return stats
}

// RunID returns the identifier usage from this run is tagged with.
func (t *Tracker) RunID() string {
	return t.runID
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
