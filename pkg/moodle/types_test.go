package moodle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	assert.Equal(t, "Logic I", Course{FullName: "303.039, Logic I, 2023S"}.ParseName())
	assert.Equal(t, "Logic I", Course{FullName: "303.039,Logic I,2023S"}.ParseName())
	assert.Equal(t, "Standalone Course", Course{FullName: "Standalone Course"}.ParseName())
}

func TestEnded(t *testing.T) {
	assert.True(t, Course{EndDate: 100}.Ended(200))
	assert.False(t, Course{EndDate: 300}.Ended(200))
	assert.False(t, Course{}.Ended(200), "courses without an end date never end")
}

func TestSortByEndDate(t *testing.T) {
	courses := []Course{
		{ID: 1, EndDate: 100},
		{ID: 2, EndDate: 300},
		{ID: 3},
		{ID: 4, EndDate: 300},
	}
	SortByEndDate(courses)

	ids := make([]int64, len(courses))
	for i, c := range courses {
		ids[i] = c.ID
	}
	assert.Equal(t, []int64{3, 2, 4, 1}, ids, "undated first, then descending, stable on ties")
}

func TestKindOfURLShapes(t *testing.T) {
	for raw, want := range map[string]Kind{
		"https://moodle.jku.at/jku/mod/resource/view.php?id=1": KindResource,
		"https://moodle.jku.at/jku/mod/folder/view.php?id=2":   KindFolder,
		"https://moodle.jku.at/jku/mod/MOD_NEW/view.php?id=3":  KindUnknown,
	} {
		kind, ok := KindOfURL(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, kind, raw)
	}

	_, ok := KindOfURL("https://moodle.jku.at/jku/grade/report/index.php")
	assert.False(t, ok)
	_, ok = KindOfURL("://not a url")
	assert.False(t, ok)
}

func TestBatchResultLen(t *testing.T) {
	res := BatchResult{
		Done:   []DownloadOutcome{{URL: "a", OK: true}},
		Failed: []DownloadOutcome{{URL: "b"}, {URL: "c"}},
	}
	assert.Equal(t, 3, res.Len())
}
