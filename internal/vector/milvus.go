// Package vector answers similarity queries over document passages stored in Milvus.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Field names of the passage collection.
const (
	FieldID         = "id"
	FieldProjectID  = "project_id"
	FieldDocumentID = "document_id"
	FieldText       = "text"
	FieldEmbedding  = "embedding"
)

// searchClient is the subset of client.Client used here.
type searchClient interface {
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string,
		vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam,
		opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
}

// MilvusSearcher implements the chat pipeline's similarity search.
type MilvusSearcher struct {
	client     searchClient
	collection string
	metric     entity.MetricType
	nprobe     int
	log        *slog.Logger
}

// Dial connects to Milvus and loads the collection into memory.
func Dial(ctx context.Context, address, collection, metric string, nprobe int, log *slog.Logger) (*MilvusSearcher, client.Client, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to milvus at %s: %w", address, err)
	}
	if err := c.LoadCollection(ctx, collection, false); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("failed to load collection '%s': %w", collection, err)
	}
	return NewMilvusSearcher(c, collection, metric, nprobe, log), c, nil
}

func NewMilvusSearcher(c searchClient, collection, metric string, nprobe int, log *slog.Logger) *MilvusSearcher {
	if nprobe <= 0 {
		nprobe = 10
	}
	return &MilvusSearcher{
		client:     c,
		collection: collection,
		metric:     entity.MetricType(strings.ToUpper(metric)),
		nprobe:     nprobe,
		log:        log,
	}
}

func (s *MilvusSearcher) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]models.Match, error) {
	searchParams, err := entity.NewIndexIvfFlatSearchParam(s.nprobe)
	if err != nil {
		return nil, fmt.Errorf("invalid search params: %w", err)
	}
	expr := buildFilterExpression(filter)
	s.log.Debug("Querying milvus.", "collection", s.collection, "filter", expr, "topK", topK)

	results, err := s.client.Search(
		ctx, s.collection, []string{}, expr,
		[]string{FieldID, FieldDocumentID, FieldText},
		[]entity.Vector{entity.FloatVector(vector)},
		FieldEmbedding, s.metric, topK, searchParams,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Milvus: %w", err)
	}

	var matches []models.Match
	for _, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("milvus search result: %w", res.Err)
		}
		findColumn := func(name string) []string {
			for _, field := range res.Fields {
				if field.Name() != name {
					continue
				}
				if col, ok := field.(*entity.ColumnVarChar); ok {
					return col.Data()
				}
			}
			return nil
		}
		ids := findColumn(FieldID)
		docIDs := findColumn(FieldDocumentID)
		texts := findColumn(FieldText)
		if ids == nil || texts == nil {
			s.log.Warn("Search result is missing id or text field, skipping.")
			continue
		}
		for i := 0; i < res.ResultCount && i < len(ids) && i < len(texts); i++ {
			m := models.Match{ID: ids[i], Text: texts[i]}
			if i < len(res.Scores) {
				m.Score = res.Scores[i]
			}
			if i < len(docIDs) {
				m.DocumentID = docIDs[i]
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// buildFilterExpression joins exact-match conditions in key order.
func buildFilterExpression(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(filter[k], `\`, `\\`)
		v = strings.ReplaceAll(v, `"`, `\"`)
		conditions = append(conditions, fmt.Sprintf(`%s == "%s"`, k, v))
	}
	return strings.Join(conditions, " and ")
}
