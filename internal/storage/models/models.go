package models

import "time"

type Document struct {
	ID         string
	SourcePath string
	FileName   string
	DocType    string
	Category   string
	UploadDate time.Time
	Pages      int
	OCRPages   int
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type IngestionRun struct {
	ID         string
	SourceDir  string
	Collection string
	Processed  int
	Skipped    int
	Failed     int
	Chunks     int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type QueryRecord struct {
	ID              string
	UserID          string
	QueryText       string
	Response        string
	CandidatesCount int
	Degraded        bool
	CacheHit        bool
	LatencyMS       int
	CreatedAt       time.Time
}

type QuerySource struct {
	ID         int
	QueryID    string
	ChunkID    string
	SourceFile string
	PageNumber int
	Score      float64
}

type Feedback struct {
	ID        int
	QueryID   string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}

// CatalogueStats summarizes what has been ingested.
type CatalogueStats struct {
	Documents int
	Chunks    int
	OCRPages  int
	LastRun   *IngestionRun
}
