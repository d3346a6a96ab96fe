package nlp

import "strings"

// Entity is a single named entity extracted by a NER model.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// skillLabels are the entity labels treated as skills when matching resumes
// against job descriptions.
var skillLabels = map[string]struct{}{
	"SKILL":    {},
	"PRODUCT":  {},
	"ORG":      {},
	"GPE":      {},
	"LANGUAGE": {},
}

// Distinct deduplicates entities on the text+label pair, preserving first-seen
// order.
func Distinct(entities []Entity) []Entity {
	type key struct{ text, label string }

	seen := make(map[key]struct{}, len(entities))
	distinct := make([]Entity, 0, len(entities))
	for _, e := range entities {
		k := key{e.Text, e.Label}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, e)
	}

	return distinct
}

// Skills filters entities down to the skill-bearing labels and returns the
// deduplicated skill texts.
func Skills(entities []Entity) []string {
	seen := make(map[string]struct{}, len(entities))
	skills := make([]string, 0, len(entities))
	for _, e := range entities {
		if _, ok := skillLabels[strings.ToUpper(e.Label)]; !ok {
			continue
		}
		if _, ok := seen[e.Text]; ok {
			continue
		}
		seen[e.Text] = struct{}{}
		skills = append(skills, e.Text)
	}

	return skills
}

// SkillComparison is an entity-level diff of resume skills against a job
// description.
type SkillComparison struct {
	ResumeSkills  []Entity `json:"resume_skills"`
	JobSkills     []Entity `json:"job_skills"`
	MissingSkills []Entity `json:"missing_skills"`
}

// CompareEntities reports which job skills have no literal counterpart in the
// resume. Matching is case-insensitive on the entity text; semantic matching
// is the similarity package's job.
func CompareEntities(resumeSkills, jobSkills []Entity) *SkillComparison {
	present := make(map[string]struct{}, len(resumeSkills))
	for _, e := range resumeSkills {
		present[strings.ToLower(e.Text)] = struct{}{}
	}

	missing := make([]Entity, 0)
	for _, e := range jobSkills {
		if _, ok := present[strings.ToLower(e.Text)]; !ok {
			missing = append(missing, e)
		}
	}

	return &SkillComparison{
		ResumeSkills:  resumeSkills,
		JobSkills:     jobSkills,
		MissingSkills: missing,
	}
}
