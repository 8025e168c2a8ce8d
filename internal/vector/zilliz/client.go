package zilliz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/vector"
	"github.com/billing-agent/backend/pkg/logger"
)

const (
	fieldID      = "id"
	fieldDocID   = "doc_id"
	fieldChunkID = "chunk_id"
	fieldText    = "text"
	fieldSource  = "source"
	fieldVector  = "embedding"

	countField = "count(*)"

	maxTextLength = 8192
)

var (
	_ vector.Index     = (*Client)(nil)
	_ vector.Lifecycle = (*Client)(nil)
)

var outputFields = []string{fieldID, fieldDocID, fieldChunkID, fieldText, fieldSource}

// Client stores each namespace as a partition of one collection.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	namespaces     []string
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int, namespaces ...string) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.Strings("namespaces", namespaces),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		namespaces:     namespaces,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) Ping(ctx context.Context) error {
	if _, err := z.client.HasCollection(ctx, z.collectionName); err != nil {
		return fmt.Errorf("milvus unreachable: %w", err)
	}
	return nil
}

// EnsureIndex creates the collection, its cosine index and the namespace
// partitions when missing, then loads the collection.
func (z *Client) EnsureIndex(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := z.createCollection(ctx); err != nil {
			return err
		}
	}

	for _, ns := range z.namespaces {
		if err := z.ensurePartition(ctx, ns); err != nil {
			return err
		}
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection ready", zap.String("collection", z.collectionName), zap.Bool("created", !has))
	return nil
}

func (z *Client) createCollection(ctx context.Context) error {
	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Telecom billing document chunks",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       fieldDocID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:     fieldChunkID,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxTextLength)},
			},
			{
				Name:       fieldSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(z.vectorDim)},
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldVector, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (z *Client) ensurePartition(ctx context.Context, namespace string) error {
	has, err := z.client.HasPartition(ctx, z.collectionName, namespace)
	if err != nil {
		return fmt.Errorf("failed to check partition %s: %w", namespace, err)
	}
	if has {
		return nil
	}
	if err := z.client.CreatePartition(ctx, z.collectionName, namespace); err != nil {
		return fmt.Errorf("failed to create partition %s: %w", namespace, err)
	}
	return nil
}

func (z *Client) Describe(ctx context.Context) (*vector.Stats, error) {
	coll, err := z.client.DescribeCollection(ctx, z.collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe collection: %w", err)
	}

	stats := &vector.Stats{Name: coll.Name, Dimension: z.vectorDim, Namespaces: make(map[string]int64)}
	for _, ns := range z.namespaces {
		has, err := z.client.HasPartition(ctx, z.collectionName, ns)
		if err != nil {
			return nil, fmt.Errorf("failed to check partition %s: %w", ns, err)
		}
		if !has {
			stats.Namespaces[ns] = 0
			continue
		}
		rs, err := z.client.Query(ctx, z.collectionName, []string{ns}, "", []string{countField})
		if err != nil {
			return nil, fmt.Errorf("failed to count partition %s: %w", ns, err)
		}
		n, err := rowCount(rs)
		if err != nil {
			return nil, fmt.Errorf("failed to count partition %s: %w", ns, err)
		}
		stats.Namespaces[ns] = n
	}
	return stats, nil
}

func rowCount(rs client.ResultSet) (int64, error) {
	col, ok := rs.GetColumn(countField).(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, fmt.Errorf("query returned no %s column", countField)
	}
	return col.Data()[0], nil
}

func (z *Client) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := z.ensurePartition(ctx, namespace); err != nil {
		return err
	}

	ids := make([]string, len(records))
	docIDs := make([]string, len(records))
	chunkIDs := make([]int64, len(records))
	texts := make([]string, len(records))
	sources := make([]string, len(records))
	vectors := make([][]float32, len(records))

	for i, r := range records {
		if len(r.Vector) != z.vectorDim {
			return fmt.Errorf("record %s: vector dimension %d, want %d", r.ID, len(r.Vector), z.vectorDim)
		}
		ids[i] = r.ID
		docIDs[i] = r.Metadata.DocID
		chunkIDs[i] = int64(r.Metadata.ChunkID)
		texts[i] = truncateBytes(r.Metadata.Text, maxTextLength)
		sources[i] = r.Metadata.Source
		vectors[i] = r.Vector
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		namespace,
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldDocID, docIDs),
		entity.NewColumnInt64(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnFloatVector(fieldVector, z.vectorDim, vectors),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Records upserted into vector DB",
		zap.String("namespace", namespace),
		zap.Int("count", len(records)),
	)
	return nil
}

func (z *Client) Query(ctx context.Context, namespace string, query []float32, topK int) ([]vector.Match, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{namespace},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0, topK)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			m, err := matchAt(sr, i)
			if err != nil {
				return nil, err
			}
			matches = append(matches, m)
		}
	}

	logger.Debug("Vector search completed",
		zap.String("namespace", namespace),
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

func (z *Client) DeleteAll(ctx context.Context, namespace string) error {
	expr := fmt.Sprintf("%s >= 0", fieldChunkID)
	if err := z.client.Delete(ctx, z.collectionName, namespace, expr); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	logger.Info("Namespace cleared", zap.String("namespace", namespace))
	return nil
}

func matchAt(sr client.SearchResult, i int) (vector.Match, error) {
	id, err := stringAt(sr.Fields.GetColumn(fieldID), i)
	if err != nil {
		return vector.Match{}, err
	}
	docID, err := stringAt(sr.Fields.GetColumn(fieldDocID), i)
	if err != nil {
		return vector.Match{}, err
	}
	text, err := stringAt(sr.Fields.GetColumn(fieldText), i)
	if err != nil {
		return vector.Match{}, err
	}
	source, _ := stringAt(sr.Fields.GetColumn(fieldSource), i)

	var chunkID int64
	if col := sr.Fields.GetColumn(fieldChunkID); col != nil {
		if v, err := col.Get(i); err == nil {
			chunkID, _ = v.(int64)
		}
	}

	return vector.Match{
		ID:    id,
		Score: vector.ClampScore(float64(sr.Scores[i])),
		Metadata: vector.Metadata{
			DocID:   docID,
			ChunkID: int(chunkID),
			Text:    text,
			Source:  source,
		},
	}, nil
}

func stringAt(col entity.Column, i int) (string, error) {
	if col == nil {
		return "", fmt.Errorf("missing output column")
	}
	v, err := col.Get(i)
	if err != nil {
		return "", fmt.Errorf("failed to read column %s: %w", col.Name(), err)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %s: unexpected type %T", col.Name(), v)
	}
	return s, nil
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
