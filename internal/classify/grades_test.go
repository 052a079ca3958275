package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// gradePage has an extra "weight" column between name and grade, as some
// courses configure, so column positions cannot be assumed.
const gradePage = `<html><body>
<div id="region-main-box">
<table>
  <thead>
    <tr>
      <th id="item">Grade item</th>
      <th id="weight">Weight</th>
      <th id="grade">Grade</th>
      <th id="range">Range</th>
    </tr>
  </thead>
  <tbody>
    <tr>
      <th><a href="https://moodle.jku.at/jku/mod/quiz/view.php?id=500">Exam 1</a></th>
      <td>50%</td><td>18.5</td><td>0&ndash;24</td>
    </tr>
    <tr>
      <th><a href="https://moodle.jku.at/jku/mod/checkmark/view.php?id=501">Exercise sheet</a></th>
      <td>50%</td><td>9</td><td>0&ndash;10</td>
    </tr>
    <tr>
      <th>Course total</th>
      <td></td><td>27.5</td><td>0&ndash;34</td>
    </tr>
    <tr>
      <th><a href="https://moodle.jku.at/jku/mod/assign/view.php?id=502">Collapsed row</a></th>
      <td>hidden</td>
    </tr>
  </tbody>
</table>
</div>
</body></html>`

func TestParseEvaluationTable(t *testing.T) {
	evals, err := ParseEvaluationTable([]byte(gradePage))
	require.NoError(t, err)
	require.Len(t, evals, 2, "summary and collapsed rows are skipped")

	assert.Equal(t, "Exam 1", evals[0].Name)
	assert.Equal(t, moodle.KindQuiz, evals[0].Kind)
	assert.Equal(t, "18.5", evals[0].Grade)
	assert.Equal(t, "0–24", evals[0].GradeRange)

	assert.Equal(t, "Exercise sheet", evals[1].Name)
	assert.Equal(t, moodle.KindCheckmark, evals[1].Kind)
	assert.Equal(t, "9", evals[1].Grade)
}

func TestParseEvaluationTableNoTable(t *testing.T) {
	body := `<html><body><div id="region-main-box"><p>No grades yet.</p></div></body></html>`
	evals, err := ParseEvaluationTable([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, evals)
}

func TestParseEvaluationTableMissingHeaders(t *testing.T) {
	body := `<html><body><div id="region-main-box">
		<table><thead><tr><th id="item">Item</th></tr></thead><tbody></tbody></table>
	</div></body></html>`
	_, err := ParseEvaluationTable([]byte(body))
	var parseErr *moodle.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseGradeOverview(t *testing.T) {
	body := `<html><body><div id="region-main-box">
	<table><tbody>
		<tr>
			<td><a href="https://moodle.jku.at/jku/grade/report/user/index.php?id=7">336.001, Logic, 2026S</a></td>
			<td>27.5</td>
		</tr>
		<tr>
			<td><a href="https://moodle.jku.at/jku/grade/report/user/index.php?id=9">336.002, Algebra, 2026S</a></td>
			<td>-</td>
		</tr>
		<tr><td>No link here</td><td>ignored</td></tr>
	</tbody></table>
	</div></body></html>`

	grades, err := ParseGradeOverview([]byte(body))
	require.NoError(t, err)
	require.Len(t, grades, 2)
	assert.Equal(t, "336.001, Logic, 2026S", grades[7].CourseName)
	assert.Equal(t, "27.5", grades[7].Grade)
	assert.Equal(t, "-", grades[9].Grade)
}
