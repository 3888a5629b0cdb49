package domain

// RankSource tells which stage last scored a candidate.
type RankSource string

const (
	RankSparse     RankSource = "sparse"
	RankDense      RankSource = "dense"
	RankFused      RankSource = "fused"
	RankCompressed RankSource = "compressed"
	RankReranked   RankSource = "reranked"
)

type Candidate struct {
	ChunkID    string        `json:"chunk_id"`
	Text       string        `json:"text"`
	Metadata   ChunkMetadata `json:"metadata"`
	Score      float64       `json:"score"`
	RankSource RankSource    `json:"rank_source"`
}

// CloneCandidates returns a shallow copy of the slice.
func CloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	copy(out, in)
	return out
}

// Source is a citation attached to an answer.
type Source struct {
	ID         string  `json:"id"`
	SourceFile string  `json:"source_file"`
	PageNumber int     `json:"page_number"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Answer is what the query entrypoint returns.
type Answer struct {
	Text     string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded,omitempty"`
}

// InsufficientInformation is the canonical answer when nothing relevant was
// retrieved or generation could not run.
const InsufficientInformation = "I don't have enough information in the provided documents."
