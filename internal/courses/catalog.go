package courses

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// catalog CSV columns. Header matching is case-insensitive.
const (
	columnTitle       = "title"
	columnURL         = "url"
	columnDescription = "course_desc"
)

// LoadCatalogFile reads the course dataset CSV from disk.
func LoadCatalogFile(path string) ([]Course, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open course dataset: %w", err)
	}
	defer f.Close()

	courses, err := ParseCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("parse course dataset %q: %w", path, err)
	}

	return courses, nil
}

// ParseCatalog parses a course catalog CSV. The header must contain Title,
// url and course_desc columns; rows with an empty description are skipped
// since there is nothing to embed.
func ParseCatalog(r io.Reader) ([]Course, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{columnTitle, columnURL, columnDescription} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var courses []Course
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		row++

		course := Course{
			ID:          fmt.Sprintf("course-%d", row),
			Title:       field(record, cols[columnTitle]),
			URL:         field(record, cols[columnURL]),
			Description: field(record, cols[columnDescription]),
		}
		if course.Description == "" {
			continue
		}

		courses = append(courses, course)
	}

	return courses, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
