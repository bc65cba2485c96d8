package search

import (
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPolls = "polity_polls"

// Meili implements Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewMeili creates a Meilisearch client and configures the poll index. An
// unreachable server is tolerated; the health loop configures it on recovery.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable",
			"event", "search_unavailable",
			"module", "search",
			"layer", "adapter",
			"url", url,
			"error", err.Error(),
		)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPolls,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create poll index (may already exist)", "module", "search", "error", err.Error())
	}

	index := m.client.Index(idxPolls)
	filterable := []interface{}{"tenantId", "kind", "endedAt"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes failed", "module", "search", "index", idxPolls, "error", err.Error())
	}
	searchable := []string{"name", "question", "result", "options"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes failed", "module", "search", "index", idxPolls, "error", err.Error())
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
				m.logger.Info("meilisearch recovered, reconfiguring index",
					"event", "search_recovered",
					"module", "search",
					"layer", "adapter",
				)
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexPoll adds or replaces a poll in the search index.
func (m *Meili) IndexPoll(record PollRecord) error {
	_, err := m.client.Index(idxPolls).AddDocuments([]PollRecord{record}, nil)
	if err != nil {
		m.healthy.Store(false)
	}
	return err
}
