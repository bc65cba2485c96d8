// Package search keeps a Meilisearch index of ended polls and their results.
package search

import (
	"polity/engine/internal/poll"
)

// PollRecord is the data we index for an ended poll.
type PollRecord struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Result   string   `json:"result"`
	EndedAt  int64    `json:"endedAt"`
}

// Indexer can push ended polls into a search index.
type Indexer interface {
	IndexPoll(record PollRecord) error
	Healthy() bool
}

func RecordFromPoll(p poll.Poll) PollRecord {
	meta := p.Info()
	return PollRecord{
		ID:       meta.ID,
		TenantID: meta.TenantID,
		Kind:     string(p.Kind()),
		Name:     meta.Name,
		Question: meta.Question,
		Options:  meta.Options,
		Result:   meta.Result,
		EndedAt:  meta.Deadline.Unix(),
	}
}
