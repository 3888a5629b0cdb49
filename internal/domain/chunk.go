package domain

// ChunkMetadata travels with a chunk into both indexes.
type ChunkMetadata struct {
	SourceFile   string `json:"source_file"`
	SourcePath   string `json:"source_path"`
	PageNumber   int    `json:"page_number"`
	ChunkIndex   int    `json:"chunk_index"`
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type"`
	Category     string `json:"category"`
	UploadDate   string `json:"upload_date"`
}

// Chunk is the unit of retrieval. ID is "{document_id}-p{page}-c{i}".
type Chunk struct {
	ID       string        `json:"chunk_id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// EmbeddedChunk pairs a chunk with its vector for the bulk write.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}
