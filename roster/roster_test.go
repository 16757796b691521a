package roster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"No;NIM;Nama;Prodi;Tahun Masuk;Angkatan",
		"1;S001;Alice Tan;Informatics;2022;22",
		"2; S002 ; Bob ;",
		"3;S003",
		"4;;No Nim;Informatics",
		"5;S004;;Informatics",
		"",
		"6;S001;Alice T.;Informatics;2022;22",
	}, "\n")

	students, skipped, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, students, 2)

	assert.Equal(t, "S001", students[0].NIM)
	assert.Equal(t, "Alice T.", students[0].Name)
	assert.Equal(t, "Informatics", students[0].Program)
	assert.Equal(t, "2022", students[0].EntryYear)
	assert.Equal(t, "22", students[0].Cohort)

	assert.Equal(t, "S002", students[1].NIM)
	assert.Equal(t, "Bob", students[1].Name)
	assert.Empty(t, students[1].Program)
	assert.Empty(t, students[1].Cohort)
}

func TestParse_HeaderOnlyAndEmpty(t *testing.T) {
	students, skipped, err := Parse(strings.NewReader("No;NIM;Nama\n"))
	require.NoError(t, err)
	assert.Empty(t, students)
	assert.Zero(t, skipped)

	students, _, err = Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, students)
}
