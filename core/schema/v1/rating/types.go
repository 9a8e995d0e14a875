package rating

import "time"

const (
	ResultSchemaID = "evalgate.rating.result"
	ResultSchemaV1 = "1.0.0"

	MinRating = 1
	MaxRating = 10
)

type RatingResult struct {
	SchemaID        string     `json:"schema_id"`
	SchemaVersion   string     `json:"schema_version"`
	CreatedAt       time.Time  `json:"created_at"`
	ProducerVersion string     `json:"producer_version"`
	SourceDigest    string     `json:"source_digest"`
	Perspective     string     `json:"perspective"`
	CorpusName      string     `json:"corpus_name,omitempty"`
	CorpusVersion   string     `json:"corpus_version,omitempty"`
	CorpusDigest    string     `json:"corpus_digest,omitempty"`
	PredictedRating int        `json:"predicted_rating"`
	Confidence      float64    `json:"confidence"`
	TopMatches      []TopMatch `json:"top_matches"`
}

type TopMatch struct {
	Rating int     `json:"rating"`
	Score  float64 `json:"score"`
}
