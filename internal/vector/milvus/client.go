package milvus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/vector"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

const (
	fieldChunkID    = "chunk_id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldDocID      = "doc_id"
	fieldSourceFile = "source_file"
	fieldSourcePath = "source_path"
	fieldPage       = "page"
	fieldChunkIndex = "chunk_index"
	fieldDocType    = "doc_type"
	fieldCategory   = "category"
	fieldUploadDate = "upload_date"

	// upserts are sent in slices to stay under the gRPC message limit
	writeBatch = 512
)

var outputFields = []string{
	fieldChunkID, fieldText, fieldDocID, fieldSourceFile, fieldSourcePath,
	fieldPage, fieldChunkIndex, fieldDocType, fieldCategory, fieldUploadDate,
}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

var _ vector.Store = (*Client)(nil)

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create milvus client: %v", domain.ErrStoreUnavailable, err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{client: c, collectionName: collectionName}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context, dim int) error {
	m.vectorDim = dim

	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("%w: failed to check collection: %v", domain.ErrStoreUnavailable, err)
	}
	if has {
		if err := m.loadDimension(ctx); err != nil {
			return err
		}
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	varchar := func(name string, maxLen int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: pk,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			varchar(fieldChunkID, 128, true),
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			varchar(fieldText, 8192, false),
			varchar(fieldDocID, 64, false),
			varchar(fieldSourceFile, 512, false),
			varchar(fieldSourcePath, 2048, false),
			{Name: fieldPage, DataType: entity.FieldTypeInt64},
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			varchar(fieldDocType, 64, false),
			varchar(fieldCategory, 128, false),
			varchar(fieldUploadDate, 32, false),
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded",
		zap.String("collection", m.collectionName),
		zap.Int("dim", dim),
	)
	return nil
}

func (m *Client) loadDimension(ctx context.Context) error {
	coll, err := m.client.DescribeCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("%w: failed to describe collection: %v", domain.ErrStoreUnavailable, err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != fieldEmbedding {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return fmt.Errorf("invalid dim on collection %s: %w", m.collectionName, err)
		}
		if m.vectorDim > 0 && dim != m.vectorDim {
			return fmt.Errorf("collection %s has dimension %d, embeddings have %d", m.collectionName, dim, m.vectorDim)
		}
		m.vectorDim = dim
	}
	return nil
}

func (m *Client) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	for start := 0; start < len(chunks); start += writeBatch {
		end := start + writeBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := m.upsertBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

func (m *Client) upsertBatch(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	n := len(chunks)
	ids := make([]string, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	docIDs := make([]string, n)
	files := make([]string, n)
	paths := make([]string, n)
	pages := make([]int64, n)
	seqs := make([]int64, n)
	docTypes := make([]string, n)
	categories := make([]string, n)
	dates := make([]string, n)

	for i, c := range chunks {
		if len(c.Vector) != m.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", c.ID, len(c.Vector), m.vectorDim)
		}
		md := c.Metadata
		ids[i] = c.ID
		embeddings[i] = c.Vector
		texts[i] = c.Text
		docIDs[i] = md.DocumentID
		files[i] = md.SourceFile
		paths[i] = md.SourcePath
		pages[i] = int64(md.PageNumber)
		seqs[i] = int64(md.ChunkIndex)
		docTypes[i] = md.DocumentType
		categories[i] = md.Category
		dates[i] = md.UploadDate
	}

	_, err := m.client.Upsert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldDocID, docIDs),
		entity.NewColumnVarChar(fieldSourceFile, files),
		entity.NewColumnVarChar(fieldSourcePath, paths),
		entity.NewColumnInt64(fieldPage, pages),
		entity.NewColumnInt64(fieldChunkIndex, seqs),
		entity.NewColumnVarChar(fieldDocType, docTypes),
		entity.NewColumnVarChar(fieldCategory, categories),
		entity.NewColumnVarChar(fieldUploadDate, dates),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert chunks: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Client) Persist(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (m *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldChunkID, strings.Join(quoted, ","))
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	logger.Info("Stale chunks deleted", zap.Int("count", len(ids)))
	return nil
}

func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("%s == %s", fieldDocID, strconv.Quote(documentID))
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

func (m *Client) Count(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collectionName)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get collection statistics: %v", domain.ErrStoreUnavailable, err)
	}
	n, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

func (m *Client) Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(max(64, k))
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search: %v", domain.ErrStoreUnavailable, err)
	}

	var hits []vector.Hit
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunk, err := chunkFromColumns(sr.Fields, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, vector.Hit{Chunk: chunk, Score: float64(sr.Scores[i])})
		}
	}

	logger.Debug("Vector search completed", zap.Int("topK", k), zap.Int("results", len(hits)))
	return hits, nil
}

func chunkFromColumns(cols client.ResultSet, i int) (domain.Chunk, error) {
	str := func(name string) (string, error) {
		col := cols.GetColumn(name)
		if col == nil {
			return "", fmt.Errorf("missing output field %s", name)
		}
		v, err := col.Get(i)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("field %s is %T, not string", name, v)
		}
		return s, nil
	}
	num := func(name string) (int, error) {
		col := cols.GetColumn(name)
		if col == nil {
			return 0, fmt.Errorf("missing output field %s", name)
		}
		v, err := col.Get(i)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", name, err)
		}
		n, ok := v.(int64)
		if !ok {
			return 0, fmt.Errorf("field %s is %T, not int64", name, v)
		}
		return int(n), nil
	}

	var (
		c    domain.Chunk
		errs []error
		err  error
	)
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	c.ID, err = str(fieldChunkID)
	collect(err)
	c.Text, err = str(fieldText)
	collect(err)
	c.Metadata.DocumentID, err = str(fieldDocID)
	collect(err)
	c.Metadata.SourceFile, err = str(fieldSourceFile)
	collect(err)
	c.Metadata.SourcePath, err = str(fieldSourcePath)
	collect(err)
	c.Metadata.PageNumber, err = num(fieldPage)
	collect(err)
	c.Metadata.ChunkIndex, err = num(fieldChunkIndex)
	collect(err)
	c.Metadata.DocumentType, err = str(fieldDocType)
	collect(err)
	c.Metadata.Category, err = str(fieldCategory)
	collect(err)
	c.Metadata.UploadDate, err = str(fieldUploadDate)
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return domain.Chunk{}, err
	}
	return c, nil
}
