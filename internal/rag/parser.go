package rag

import (
	"regexp"
	"strings"
)

// courseLinePattern matches "N. [Course Title]: explanation" lines in the LLM
// response. The brackets are optional since models do not always keep them.
var courseLinePattern = regexp.MustCompile(`\d+\.\s+([^:\n]+):`)

// ExtractCourseTitles pulls the recommended course titles out of a numbered
// list response, in the order the model ranked them.
func ExtractCourseTitles(llmResponse string) []string {
	matches := courseLinePattern.FindAllStringSubmatch(llmResponse, -1)

	titles := make([]string, 0, len(matches))
	for _, match := range matches {
		title := strings.TrimSpace(match[1])
		title = strings.Trim(title, "[]*")
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		titles = append(titles, title)
	}

	return titles
}
