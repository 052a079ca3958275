package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

const quizSummaryPage = `<html><body>
<div id="region-main-box">
  <h2>Midterm Exam</h2>
  <a href="https://moodle.jku.at/jku/mod/quiz/view.php?id=600">Back to quiz</a>
  <a href="https://moodle.jku.at/jku/mod/quiz/review.php?attempt=42&cmid=600">Review</a>
</div>
</body></html>`

const quizReviewPage = `<html><body>
<div id="region-main-box">
<div role="main">
  <table class="quizreviewsummary">
    <tbody>
      <tr><th>Started on</th><td>Friday, 13 June 2026, 10:00</td></tr>
      <tr><th>Grade</th><td>18.50 out of 24.00</td></tr>
    </tbody>
  </table>
  <div id="question-42-1" class="que">
    <div class="info"><h3>Question 1</h3><div class="grade">Mark 2.00 out of 2.00</div></div>
    <div class="content">
      <div class="formulation">What is 1 + 1? <img src="https://moodle.jku.at/jku/pluginfile.php/9/plot.png"/></div>
      <div class="feedback">Correct, the answer is 2.</div>
    </div>
  </div>
  <div id="question-42-2" class="que">
    <div class="info"><h3>Question 2</h3></div>
    <div class="content">
      <div class="formulation">State the pumping lemma.</div>
    </div>
  </div>
</div>
</div>
</body></html>`

func TestParseQuizSummary(t *testing.T) {
	sum, err := ParseQuizSummary([]byte(quizSummaryPage))
	require.NoError(t, err)
	assert.Equal(t, "Midterm Exam", sum.Name)
	assert.Contains(t, sum.ReviewURL, "review.php")
}

func TestParseQuizSummaryWithoutReviewLink(t *testing.T) {
	body := `<html><body><div id="region-main-box">
		<h2>Hidden Exam</h2>
		<a href="https://moodle.jku.at/jku/mod/quiz/view.php?id=600">Back</a>
	</div></body></html>`
	sum, err := ParseQuizSummary([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Hidden Exam", sum.Name)
	assert.Empty(t, sum.ReviewURL)
}

func TestParseQuiz(t *testing.T) {
	doc, err := ParseQuiz([]byte(quizReviewPage))
	require.NoError(t, err)

	assert.Contains(t, doc.Summary, "Started on")
	assert.Contains(t, doc.Summary, "18.50 out of 24.00")

	require.Len(t, doc.Questions, 2)
	assert.Contains(t, doc.Questions[0].Info, "Question 1")
	assert.Contains(t, doc.Questions[0].Question, "What is 1 + 1?")
	assert.Contains(t, doc.Questions[0].Feedback, "the answer is 2")

	assert.Contains(t, doc.Questions[1].Question, "pumping lemma")
	assert.Empty(t, doc.Questions[1].Feedback)

	require.Len(t, doc.Images, 1)
	assert.Equal(t, "https://moodle.jku.at/jku/pluginfile.php/9/plot.png", doc.Images[0])
}

func TestParseQuizMissingSummaryTable(t *testing.T) {
	body := `<html><body><div id="region-main-box"><div role="main"><p>empty</p></div></div></body></html>`
	_, err := ParseQuiz([]byte(body))
	var parseErr *moodle.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "review summary table", parseErr.Missing)
}

func TestRenderQuizMarkdown(t *testing.T) {
	doc, err := ParseQuiz([]byte(quizReviewPage))
	require.NoError(t, err)

	out := RenderQuizMarkdown(doc, func(src string) (string, bool) {
		return "images/plot.png", true
	})

	// Summary precedes questions; each question keeps info/question/feedback order.
	sumIdx := strings.Index(out, "Started on")
	q1Idx := strings.Index(out, "Question 1")
	fbIdx := strings.Index(out, "the answer is 2")
	q2Idx := strings.Index(out, "Question 2")
	require.True(t, sumIdx >= 0 && q1Idx > sumIdx && fbIdx > q1Idx && q2Idx > fbIdx)

	assert.Contains(t, out, "images/plot.png")
	assert.NotContains(t, out, "pluginfile.php/9/plot.png")
}

func TestRenderQuizMarkdownKeepsRejectedImages(t *testing.T) {
	doc, err := ParseQuiz([]byte(quizReviewPage))
	require.NoError(t, err)

	out := RenderQuizMarkdown(doc, func(src string) (string, bool) { return "", false })
	assert.Contains(t, out, "pluginfile.php/9/plot.png")
}
