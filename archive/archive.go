// Package archive provides a searchable in-memory index of processed
// events.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/vinayprograms/pulsekit/event"
)

// Common errors.
var (
	ErrClosed = errors.New("archive closed")
)

// DefaultMaxDocs bounds the index; oldest documents are evicted first.
const DefaultMaxDocs = 10000

// HandlerName is the name the archive registers under on the dispatcher.
const HandlerName = "archive"

// Document is the indexed form of an event.
type Document struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Content    string    `json:"content"`
	Result     string    `json:"result"`
	ReceivedAt time.Time `json:"received_at"`
}

// Hit is one search result.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// Config configures a Store.
type Config struct {
	// MaxDocs bounds the index size. Default: 10000
	MaxDocs int
}

// Store is a bounded, memory-only full-text index over events. It holds
// no durable state; a restart starts empty, same as dispatcher history.
type Store struct {
	mu      sync.Mutex
	index   bleve.Index
	ids     []string // insertion order, for eviction
	maxDocs int
	closed  bool
}

// NewStore creates a memory-only archive.
func NewStore(cfg Config) (*Store, error) {
	maxDocs := cfg.MaxDocs
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocs
	}

	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Store{
		index:   index,
		maxDocs: maxDocs,
	}, nil
}

// buildIndexMapping creates the index mapping: analyzed content, keyword
// fields for exact filters, a date field for timestamps.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("result", textFieldMapping)
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("user_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("user_name", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("received_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index adds one event to the archive, evicting the oldest documents once
// the cap is reached.
func (s *Store) Index(e *event.Event) error {
	if e == nil {
		return nil
	}

	doc := Document{
		ID:         e.ID,
		Type:       e.Type.String(),
		Source:     e.Source,
		UserID:     e.UserID,
		UserName:   e.UserName,
		Content:    e.Content,
		Result:     e.Result,
		ReceivedAt: e.ReceivedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.index.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	s.ids = append(s.ids, doc.ID)

	for len(s.ids) > s.maxDocs {
		oldest := s.ids[0]
		s.ids = s.ids[1:]
		if err := s.index.Delete(oldest); err != nil {
			return fmt.Errorf("failed to evict document: %w", err)
		}
	}
	return nil
}

// Search runs a full-text query over content and results, optionally
// filtered to one event type. Empty query matches everything, newest
// scores permitting.
func (s *Store) Search(queryText string, eventType event.Type, limit int) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}

	boolQuery := bleve.NewBooleanQuery()
	if queryText != "" {
		boolQuery.AddMust(bleve.NewMatchQuery(queryText))
	} else {
		boolQuery.AddMust(bleve.NewMatchAllQuery())
	}
	if eventType != "" {
		typeQuery := bleve.NewTermQuery(eventType.String())
		typeQuery.SetField("type")
		boolQuery.AddMust(typeQuery)
	}

	searchReq := bleve.NewSearchRequest(boolQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"*"}

	result, err := s.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{Score: h.Score}
		hit.ID = h.ID
		if v, ok := h.Fields["type"].(string); ok {
			hit.Type = v
		}
		if v, ok := h.Fields["source"].(string); ok {
			hit.Source = v
		}
		if v, ok := h.Fields["user_id"].(string); ok {
			hit.UserID = v
		}
		if v, ok := h.Fields["user_name"].(string); ok {
			hit.UserName = v
		}
		if v, ok := h.Fields["content"].(string); ok {
			hit.Content = v
		}
		if v, ok := h.Fields["result"].(string); ok {
			hit.Result = v
		}
		if v, ok := h.Fields["received_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				hit.ReceivedAt = ts
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Close closes the index. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.index.Close()
}

// Attach registers the store on the dispatcher as a handler for every
// event type, so all traffic becomes searchable.
func (s *Store) Attach(d *event.Dispatcher) {
	d.RegisterHandlerAll(event.NewHandler(HandlerName,
		func(ctx context.Context, e *event.Event) (string, error) {
			if err := s.Index(e); err != nil {
				return "", err
			}
			return "", nil
		}))
}
