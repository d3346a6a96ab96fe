// Package similarity scores how well a candidate's skills cover a job's
// required skills using sentence-embedding cosine similarity.
package similarity

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// DefaultThreshold is the cosine similarity above which a job skill counts as
// covered by a candidate skill.
const DefaultThreshold = 0.5

// Embedder turns texts into embedding vectors, one per input, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// MatchDetail records the best candidate match found for one job skill.
type MatchDetail struct {
	JobSkill   string  `json:"job_skill"`
	BestMatch  string  `json:"best_match"`
	Similarity float64 `json:"similarity"`
	IsMatch    bool    `json:"is_match"`
}

// MatchResult is the outcome of comparing a candidate skill set against a job
// skill set. Score is a percentage of job skills covered.
type MatchResult struct {
	Score           float64       `json:"score"`
	MatchedSkills   []string      `json:"matched_skills"`
	MissingSkills   []string      `json:"missing_skills"`
	MatchingDetails []MatchDetail `json:"matching_details"`
}

// Scorer computes semantic match scores through the configured embedder.
type Scorer struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewScorer creates a Scorer.
func NewScorer(embedder Embedder, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{embedder: embedder, logger: logger}
}

// MatchingScore compares each job skill against every candidate skill and
// classifies it as matched or missing by the threshold. Empty skill sets
// short-circuit to a zero score with every job skill reported missing.
func (s *Scorer) MatchingScore(ctx context.Context, jobSkills, userSkills []string, threshold float64) (*MatchResult, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if len(jobSkills) == 0 || len(userSkills) == 0 {
		missing := make([]string, len(jobSkills))
		copy(missing, jobSkills)
		return &MatchResult{
			Score:           0,
			MatchedSkills:   []string{},
			MissingSkills:   missing,
			MatchingDetails: []MatchDetail{},
		}, nil
	}

	// One embedding call for both sets.
	all := make([]string, 0, len(jobSkills)+len(userSkills))
	all = append(all, jobSkills...)
	all = append(all, userSkills...)

	embeddings, err := s.embedder.EmbedTexts(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("embed skills: %w", err)
	}
	if len(embeddings) != len(all) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(all), len(embeddings))
	}

	jobEmbeddings := embeddings[:len(jobSkills)]
	userEmbeddings := embeddings[len(jobSkills):]

	matched := make([]string, 0, len(jobSkills))
	missing := make([]string, 0)
	details := make([]MatchDetail, 0, len(jobSkills))

	for i, jobSkill := range jobSkills {
		maxSimilarity := 0.0
		bestMatch := ""

		for j, userSkill := range userSkills {
			sim := Cosine(jobEmbeddings[i], userEmbeddings[j])
			if sim > maxSimilarity {
				maxSimilarity = sim
				bestMatch = userSkill
			}
		}

		isMatch := maxSimilarity >= threshold
		details = append(details, MatchDetail{
			JobSkill:   jobSkill,
			BestMatch:  bestMatch,
			Similarity: maxSimilarity,
			IsMatch:    isMatch,
		})

		if isMatch {
			matched = append(matched, jobSkill)
		} else {
			missing = append(missing, jobSkill)
		}
	}

	score := math.Round(float64(len(matched))/float64(len(jobSkills))*10000) / 100

	s.logger.Debug("semantic matching score computed",
		zap.Int("job_skills", len(jobSkills)),
		zap.Int("matched", len(matched)),
		zap.Float64("score", score),
	)

	return &MatchResult{
		Score:           score,
		MatchedSkills:   matched,
		MissingSkills:   missing,
		MatchingDetails: details,
	}, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either has no
// magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
