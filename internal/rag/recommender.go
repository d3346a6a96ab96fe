// Package rag implements the retrieval-augmented course recommendation
// pipeline: vector retrieval from the course index, prompt augmentation and
// LLM generation, then resolution of the recommended titles back to catalog
// entries.
package rag

import (
	"context"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/courses"
	"github.com/skillbridge/skillbridge/internal/logger"
	"github.com/skillbridge/skillbridge/internal/nlp"
)

//go:embed prompt.md
var promptTemplate string

const (
	// retrievalLimit is how many catalog entries feed the prompt.
	retrievalLimit = 50
	// resolveLimit bounds the per-title lookup when mapping recommended
	// titles back to catalog entries.
	resolveLimit = 10
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

type embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type courseSearcher interface {
	SearchByVector(vector []float32, limit int64) ([]courses.Course, error)
}

type entityExtractor interface {
	ExtractDistinctEntities(ctx context.Context, text string) ([]nlp.Entity, error)
}

// RecommendedCourse is one course suggested by the pipeline. PotentialScore
// and ScoreImprovement are filled in later by the recommendation handler.
type RecommendedCourse struct {
	CourseName       string  `json:"course_name"`
	URL              string  `json:"url"`
	Description      string  `json:"description"`
	PotentialScore   float64 `json:"potential_score"`
	ScoreImprovement float64 `json:"score_improvement"`
}

// Recommendations is the full pipeline output.
type Recommendations struct {
	RecommendedCourses  []RecommendedCourse `json:"recommended_courses"`
	SkillGap            []string            `json:"skill_gap"`
	JobSkills           []string            `json:"job_skills"`
	UserSkills          []string            `json:"user_skills"`
	RecommendationsText string              `json:"recommendations_text"`
}

// Recommender wires the pipeline collaborators together.
type Recommender struct {
	generator contentGenerator
	embedder  embedder
	searcher  courseSearcher
	extractor entityExtractor
	logger    *zap.Logger
}

// NewRecommender creates a Recommender.
func NewRecommender(generator contentGenerator, embedder embedder, searcher courseSearcher, extractor entityExtractor, logger *zap.Logger) *Recommender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recommender{
		generator: generator,
		embedder:  embedder,
		searcher:  searcher,
		extractor: extractor,
		logger:    logger,
	}
}

// GenerateCourseRecommendations runs the whole pipeline. Failures degrade to
// an empty recommendation set carrying the error text so a flaky collaborator
// downgrades the answer instead of failing the job.
func (r *Recommender) GenerateCourseRecommendations(ctx context.Context, jobDescription, resumeText string, groundTruthSkills []string) (*Recommendations, error) {
	prompt, jobSkills, userSkills, err := r.augmentPrompt(ctx, jobDescription, resumeText, groundTruthSkills)
	if err != nil {
		return r.degraded(err), nil
	}

	raw, err := r.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return r.degraded(fmt.Errorf("llm generation: %w", err)), nil
	}

	r.logger.Debug("llm response received",
		zap.Int("length", len(raw)),
		zap.String("preview", logger.TruncateForLog(raw, 200)),
	)

	recommended, err := r.resolveCourses(ctx, ExtractCourseTitles(raw))
	if err != nil {
		return r.degraded(err), nil
	}

	return &Recommendations{
		RecommendedCourses:  recommended,
		SkillGap:            difference(jobSkills, userSkills),
		JobSkills:           jobSkills,
		UserSkills:          userSkills,
		RecommendationsText: raw,
	}, nil
}

// augmentPrompt retrieves the closest catalog entries for the job description
// and folds them, the skill gap and the job listing into the prompt template.
func (r *Recommender) augmentPrompt(ctx context.Context, jobDescription, resumeText string, groundTruthSkills []string) (string, []string, []string, error) {
	vectors, err := r.embedder.EmbedTexts(ctx, []string{jobDescription})
	if err != nil {
		return "", nil, nil, fmt.Errorf("embed job description: %w", err)
	}

	retrieved, err := r.searcher.SearchByVector(vectors[0], retrievalLimit)
	if err != nil {
		return "", nil, nil, fmt.Errorf("retrieve courses: %w", err)
	}

	descriptions := make([]string, 0, len(retrieved))
	for _, course := range retrieved {
		descriptions = append(descriptions, course.Description)
	}

	jobSkills := groundTruthSkills
	if jobSkills == nil {
		entities, err := r.extractor.ExtractDistinctEntities(ctx, jobDescription)
		if err != nil {
			return "", nil, nil, fmt.Errorf("extract job skills: %w", err)
		}
		jobSkills = nlp.Skills(entities)
	}

	userEntities, err := r.extractor.ExtractDistinctEntities(ctx, resumeText)
	if err != nil {
		return "", nil, nil, fmt.Errorf("extract user skills: %w", err)
	}
	userSkills := nlp.Skills(userEntities)

	skillGap := difference(jobSkills, userSkills)

	prompt := strings.ReplaceAll(promptTemplate, "{{COURSES}}", strings.Join(descriptions, "\n\n"))
	prompt = strings.ReplaceAll(prompt, "{{SKILL_GAP}}", strings.Join(skillGap, ", "))
	prompt = strings.ReplaceAll(prompt, "{{JOB_LISTING}}", jobDescription)

	return prompt, jobSkills, userSkills, nil
}

// resolveCourses maps each recommended title back to a catalog entry: exact
// title containment wins, the best semantic match is the fallback, and a bare
// name is kept when the catalog has nothing close.
func (r *Recommender) resolveCourses(ctx context.Context, titles []string) ([]RecommendedCourse, error) {
	if len(titles) == 0 {
		return []RecommendedCourse{}, nil
	}

	vectors, err := r.embedder.EmbedTexts(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("embed course titles: %w", err)
	}

	resolved := make([]RecommendedCourse, 0, len(titles))
	for i, title := range titles {
		matches, err := r.searcher.SearchByVector(vectors[i], resolveLimit)
		if err != nil {
			return nil, fmt.Errorf("resolve course %q: %w", title, err)
		}

		course := RecommendedCourse{CourseName: title}
		found := false
		for _, match := range matches {
			if strings.Contains(strings.ToLower(match.Title), strings.ToLower(title)) {
				course.URL = match.URL
				course.Description = match.Description
				found = true
				break
			}
		}
		if !found && len(matches) > 0 {
			course.URL = matches[0].URL
			course.Description = matches[0].Description
		}

		resolved = append(resolved, course)
	}

	return resolved, nil
}

func (r *Recommender) degraded(err error) *Recommendations {
	r.logger.Error("course recommendation pipeline failed", zap.Error(err))
	return &Recommendations{
		RecommendedCourses:  []RecommendedCourse{},
		SkillGap:            []string{},
		JobSkills:           []string{},
		UserSkills:          []string{},
		RecommendationsText: fmt.Sprintf("Error generating recommendations: %s", err),
	}
}

// difference returns the elements of a that are not in b, case-insensitively.
func difference(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, s := range b {
		present[strings.ToLower(s)] = struct{}{}
	}

	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := present[strings.ToLower(s)]; !ok {
			out = append(out, s)
		}
	}
	return out
}
