// Package roster reads the student list exported by the academic office.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"lab_visit_tracker/models"
)

// Columns: No;NIM;Name;Program;EntryYear;Cohort. Only NIM and Name are required.
const Separator = ';'

// Parse reads a roster file, skipping its header. Rows with fewer than three
// columns or an empty NIM or name are dropped and counted in skipped. A NIM
// that appears twice keeps its last row.
func Parse(r io.Reader) (students []models.Student, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("roster header: %w", err)
	}

	index := map[string]int{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("roster: %w", err)
		}
		if len(row) < 3 {
			skipped++
			continue
		}
		s := models.Student{
			NIM:       strings.TrimSpace(row[1]),
			Name:      strings.TrimSpace(row[2]),
			Program:   field(row, 3),
			EntryYear: field(row, 4),
			Cohort:    field(row, 5),
		}
		if s.NIM == "" || s.Name == "" {
			skipped++
			continue
		}
		if i, ok := index[s.NIM]; ok {
			students[i] = s
			continue
		}
		index[s.NIM] = len(students)
		students = append(students, s)
	}
	return students, skipped, nil
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
