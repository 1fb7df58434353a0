package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/sharkoder/sharkoder/internal/models"
)

// searchDoc is the indexed projection of a FileRow (spec §4.4: "substring
// search across file names").
type searchDoc struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// SearchIndex is an in-memory bleve index over cached file names, rebuilt
// from the Store on each FullIndex and kept current by incremental upserts.
type SearchIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// nameAnalyzer indexes a whole file name as a single lowercase token, so a
// wildcard query can substring-match across it (spec §4.4: "substring search
// across file names") without the standard analyzer's word-boundary
// tokenization splitting apart a name like "Interstellar.2014.mkv" before a
// query for "2014.mkv" could span it.
const nameAnalyzer = "name_keyword_lower"

func newIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.AddCustomAnalyzer(nameAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})

	nameField := bleve.NewTextFieldMapping()
	nameField.Store = true
	nameField.Index = true
	nameField.Analyzer = nameAnalyzer

	pathField := bleve.NewTextFieldMapping()
	pathField.Store = true
	pathField.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", nameField)
	docMapping.AddFieldMappingsAt("path", pathField)

	im.AddDocumentMapping("file", docMapping)
	im.DefaultType = "file"
	return im
}

// NewSearchIndex builds a fresh in-memory index (spec §4.4: substring search
// does not need to survive a process restart, it is rebuilt from the durable
// cache on indexation).
func NewSearchIndex() (*SearchIndex, error) {
	idx, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &SearchIndex{index: idx}, nil
}

// EnableSearch attaches a SearchIndex to the Cache, used by Search().
func (c *Cache) EnableSearch(idx *SearchIndex) {
	c.search = idx
}

// IndexAll rebuilds the search index from every cached file row.
func (idx *SearchIndex) IndexAll(rows []*models.FileRow) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	batch := idx.index.NewBatch()
	for _, r := range rows {
		if err := batch.Index(r.Path, searchDoc{Path: r.Path, Name: r.Name}); err != nil {
			return err
		}
	}
	return idx.index.Batch(batch)
}

// Upsert indexes or reindexes a single file row.
func (idx *SearchIndex) Upsert(row *models.FileRow) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index.Index(row.Path, searchDoc{Path: row.Path, Name: row.Name})
}

// Delete removes a file row from the index.
func (idx *SearchIndex) Delete(filePath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index.Delete(filePath)
}

// query runs a substring match (wildcard on both sides) over indexed names
// and returns matching paths, capped at limit.
func (idx *SearchIndex) query(term string, limit int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	wq := bleve.NewWildcardQuery("*" + term + "*")
	wq.SetField("name")

	req := bleve.NewSearchRequestOptions(wq, limit, 0, false)
	res, err := idx.index.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out, nil
}

// Search performs a substring search over cached file names and resolves
// hits back to full FileRow data (spec §4.4: "Search(substring) -> matching
// file rows").
func (c *Cache) Search(term string, limit int) ([]models.FileRow, error) {
	if c.search == nil {
		idx, err := NewSearchIndex()
		if err != nil {
			return nil, err
		}
		if err := idx.IndexAll(c.store.AllFiles()); err != nil {
			return nil, err
		}
		c.search = idx
	}
	if limit <= 0 {
		limit = 100
	}

	hitPaths, err := c.search.query(term, limit)
	if err != nil {
		return nil, err
	}

	out := make([]models.FileRow, 0, len(hitPaths))
	for _, p := range hitPaths {
		if row := c.store.File(p); row != nil {
			out = append(out, *row)
		}
	}
	return out, nil
}

// ReindexSearch rebuilds the in-memory search index from the durable cache,
// called after FullIndex (spec §4.4).
func (c *Cache) ReindexSearch() error {
	idx, err := NewSearchIndex()
	if err != nil {
		return err
	}
	if err := idx.IndexAll(c.store.AllFiles()); err != nil {
		return err
	}
	c.search = idx
	return nil
}
