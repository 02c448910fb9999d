package vector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	results []client.SearchResult
	err     error

	expr   string
	topK   int
	metric entity.MetricType
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ []string, expr string, _ []string,
	_ []entity.Vector, _ string, metricType entity.MetricType, topK int, _ entity.SearchParam,
	_ ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	f.expr, f.topK, f.metric = expr, topK, metricType
	return f.results, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuery_MapsColumnsToMatches(t *testing.T) {
	fake := &fakeSearch{results: []client.SearchResult{{
		ResultCount: 2,
		Scores:      []float32{0.9, 0.7},
		Fields: []entity.Column{
			entity.NewColumnVarChar(FieldID, []string{"p1", "p2"}),
			entity.NewColumnVarChar(FieldDocumentID, []string{"doc-a", "doc-b"}),
			entity.NewColumnVarChar(FieldText, []string{"torque 40Nm", "grade 8.8 bolts"}),
		},
	}}}
	s := NewMilvusSearcher(fake, "passages", "cosine", 0, quietLogger())

	got, err := s.Query(context.Background(), []float32{0.1, 0.2}, 5, map[string]string{"project_id": "proj-1"})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "doc-a", got[0].DocumentID)
	assert.Equal(t, "torque 40Nm", got[0].Text)
	assert.InDelta(t, 0.7, got[1].Score, 1e-6)
	assert.Equal(t, `project_id == "proj-1"`, fake.expr)
	assert.Equal(t, 5, fake.topK)
	assert.Equal(t, entity.MetricType("COSINE"), fake.metric)
}

func TestQuery_SkipsResultsWithoutText(t *testing.T) {
	fake := &fakeSearch{results: []client.SearchResult{{
		ResultCount: 1,
		Fields:      []entity.Column{entity.NewColumnVarChar(FieldID, []string{"p1"})},
	}}}
	s := NewMilvusSearcher(fake, "passages", "L2", 10, quietLogger())

	got, err := s.Query(context.Background(), []float32{1}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, fake.expr)
}

func TestQuery_SearchError(t *testing.T) {
	s := NewMilvusSearcher(&fakeSearch{err: errors.New("collection not loaded")}, "passages", "L2", 10, quietLogger())
	_, err := s.Query(context.Background(), []float32{1}, 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not loaded")
}

func TestBuildFilterExpression(t *testing.T) {
	assert.Equal(t, "", buildFilterExpression(nil))
	assert.Equal(t,
		`document_id == "d\"1" and project_id == "p1"`,
		buildFilterExpression(map[string]string{"project_id": "p1", "document_id": `d"1`}))
}
