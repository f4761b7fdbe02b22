package models

import (
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// KnowledgeChunk is one embedded passage of the academic knowledge base.
// Ingestion happens out of process; this service only reads.
type KnowledgeChunk struct {
	ID              string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DocumentID      string          `gorm:"column:document_id;type:text;index" json:"document_id"`
	SourceReference string          `gorm:"column:source_reference;type:text" json:"source_reference"`
	ChunkIndex      int             `gorm:"column:chunk_index" json:"chunk_index"`
	Content         string          `gorm:"column:content;type:text" json:"content"`
	Tags            pq.StringArray  `gorm:"column:tags;type:text[]" json:"tags"`
	Embedding       pgvector.Vector `gorm:"column:embedding;type:vector(1536)" json:"-"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunks" }
