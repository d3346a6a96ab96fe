// Package recommend implements the course-recommendation job handler: cache
// lookup, semantic skill comparison, RAG course generation and per-course
// score enrichment.
package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/nlp"
	"github.com/skillbridge/skillbridge/internal/queue"
	"github.com/skillbridge/skillbridge/internal/rag"
	"github.com/skillbridge/skillbridge/internal/similarity"
)

// Extractor pulls named entities out of free text.
type Extractor interface {
	ExtractDistinctEntities(ctx context.Context, text string) ([]nlp.Entity, error)
}

// Scorer computes semantic match scores between skill sets.
type Scorer interface {
	MatchingScore(ctx context.Context, jobSkills, userSkills []string, threshold float64) (*similarity.MatchResult, error)
}

// Recommender produces course recommendations for a skill gap.
type Recommender interface {
	GenerateCourseRecommendations(ctx context.Context, jobDescription, resumeText string, groundTruthSkills []string) (*rag.Recommendations, error)
}

// ResultCache short-circuits repeated requests. Implementations must treat
// their own failures as misses.
type ResultCache interface {
	GetRecommendation(ctx context.Context, resumeText, jobDescriptionText string, threshold float64) (map[string]any, bool)
	SetRecommendation(ctx context.Context, resumeText, jobDescriptionText string, threshold float64, result map[string]any)
}

// Handler is the job-type-specific business logic for course-recommendation
// jobs.
type Handler struct {
	extractor   Extractor
	scorer      Scorer
	recommender Recommender
	cache       ResultCache
	logger      *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(extractor Extractor, scorer Scorer, recommender Recommender, cache ResultCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		extractor:   extractor,
		scorer:      scorer,
		recommender: recommender,
		cache:       cache,
		logger:      logger,
	}
}

// QueueHandler adapts the Handler to the queue's handler signature.
func (h *Handler) QueueHandler() queue.Handler {
	return h.Handle
}

// Handle processes one course-recommendation payload.
func (h *Handler) Handle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	resumeText, jobDescription, threshold, err := parsePayload(payload)
	if err != nil {
		return nil, err
	}

	if cached, ok := h.cache.GetRecommendation(ctx, resumeText, jobDescription, threshold); ok {
		h.logger.Info("returning cached course recommendations")
		return cached, nil
	}

	h.logger.Info("processing new course recommendation request")

	comparison, err := h.compareSkills(ctx, resumeText, jobDescription, threshold)
	if err != nil {
		return nil, err
	}

	// Matched plus missing is the full required skill set; it grounds the
	// recommender instead of a second extraction pass over the job text.
	allJobSkills := make([]string, 0, len(comparison.MatchedSkills)+len(comparison.MissingSkills))
	allJobSkills = append(allJobSkills, comparison.MatchedSkills...)
	allJobSkills = append(allJobSkills, comparison.MissingSkills...)

	recommendations, err := h.recommender.GenerateCourseRecommendations(ctx, jobDescription, resumeText, allJobSkills)
	if err != nil {
		return nil, fmt.Errorf("generate course recommendations: %w", err)
	}

	if err := h.scoreCourses(ctx, recommendations, comparison.Score, threshold); err != nil {
		return nil, err
	}

	result := map[string]any{
		"recommended_courses":  recommendations.RecommendedCourses,
		"skill_gap":            recommendations.SkillGap,
		"job_skills":           recommendations.JobSkills,
		"user_skills":          recommendations.UserSkills,
		"recommendations_text": recommendations.RecommendationsText,
		"matching_details":     comparison.MatchingDetails,
	}

	h.cache.SetRecommendation(ctx, resumeText, jobDescription, threshold, queue.NormalizeResult(result))

	return result, nil
}

// compareSkills extracts skills from both texts and scores the overlap.
func (h *Handler) compareSkills(ctx context.Context, resumeText, jobDescription string, threshold float64) (*similarity.MatchResult, error) {
	resumeEntities, err := h.extractor.ExtractDistinctEntities(ctx, resumeText)
	if err != nil {
		return nil, fmt.Errorf("extract resume skills: %w", err)
	}
	jobEntities, err := h.extractor.ExtractDistinctEntities(ctx, jobDescription)
	if err != nil {
		return nil, fmt.Errorf("extract job skills: %w", err)
	}

	return h.scorer.MatchingScore(ctx, nlp.Skills(jobEntities), nlp.Skills(resumeEntities), threshold)
}

// scoreCourses computes, per recommended course, how much the overall match
// score would improve if the candidate acquired that course's skills.
func (h *Handler) scoreCourses(ctx context.Context, recommendations *rag.Recommendations, originalScore, threshold float64) error {
	for i := range recommendations.RecommendedCourses {
		course := &recommendations.RecommendedCourses[i]

		courseEntities, err := h.extractor.ExtractDistinctEntities(ctx, course.Description)
		if err != nil {
			return fmt.Errorf("extract skills for course %q: %w", course.CourseName, err)
		}

		enhanced := union(recommendations.UserSkills, nlp.Skills(courseEntities))
		result, err := h.scorer.MatchingScore(ctx, recommendations.JobSkills, enhanced, threshold)
		if err != nil {
			return fmt.Errorf("score course %q: %w", course.CourseName, err)
		}

		course.PotentialScore = result.Score
		improvement := result.Score - originalScore
		if improvement < 0 {
			improvement = 0
		}
		course.ScoreImprovement = improvement
	}

	return nil
}

// recommendationPayload is the decoded shape of a course-recommendation job
// payload.
type recommendationPayload struct {
	ResumeText         string  `mapstructure:"resume_text"`
	JobDescriptionText string  `mapstructure:"job_description_text"`
	Threshold          float64 `mapstructure:"threshold"`
}

func parsePayload(payload map[string]any) (resumeText, jobDescription string, threshold float64, err error) {
	var decoded recommendationPayload
	if err := mapstructure.Decode(payload, &decoded); err != nil {
		return "", "", 0, fmt.Errorf("decode payload: %w", err)
	}

	if strings.TrimSpace(decoded.ResumeText) == "" {
		return "", "", 0, fmt.Errorf("payload field resume_text is required")
	}
	if strings.TrimSpace(decoded.JobDescriptionText) == "" {
		return "", "", 0, fmt.Errorf("payload field job_description_text is required")
	}

	threshold = decoded.Threshold
	if threshold <= 0 {
		threshold = similarity.DefaultThreshold
	}

	return decoded.ResumeText, decoded.JobDescriptionText, threshold, nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
