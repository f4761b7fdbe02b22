package postgres

import (
	"context"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// ScoredChunk is a knowledge passage with its cosine similarity to the query.
type ScoredChunk struct {
	ID              string         `gorm:"column:id"`
	DocumentID      string         `gorm:"column:document_id"`
	SourceReference string         `gorm:"column:source_reference"`
	ChunkIndex      int            `gorm:"column:chunk_index"`
	Content         string         `gorm:"column:content"`
	Tags            pq.StringArray `gorm:"column:tags;type:text[]"`
	Similarity      float64        `gorm:"column:similarity"`
}

type KnowledgeRepo interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error)
	Count(ctx context.Context) (int64, error)
}

type knowledgeRepo struct {
	db *gorm.DB
}

func NewKnowledgeRepo(db *gorm.DB) KnowledgeRepo {
	return &knowledgeRepo{db: db}
}

const searchSQL = `
SELECT id, document_id, source_reference, chunk_index, content, tags,
       1 - (embedding <=> ?) AS similarity
FROM knowledge_chunks
ORDER BY embedding <=> ?
LIMIT ?`

func (r *knowledgeRepo) Search(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 3
	}
	vec := pgvector.NewVector(embedding)
	var rows []ScoredChunk
	err := r.db.WithContext(ctx).Raw(searchSQL, vec, vec, topK).Scan(&rows).Error
	return rows, err
}

func (r *knowledgeRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Table("knowledge_chunks").Count(&n).Error
	return n, err
}
