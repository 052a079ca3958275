package classify

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// QuizSummary is the "review quiz" page: the quiz name plus the address of
// the full review page, if the portal exposes one.
type QuizSummary struct {
	Name      string
	ReviewURL string
}

// QuizDocument is a parsed quiz review page, ready for rendering.
type QuizDocument struct {
	// Summary is the review summary table, already in markdown.
	Summary   string
	Questions []QuizQuestion
	// Images are the embedded image addresses referenced by question
	// content, deduplicated.
	Images []string
}

// QuizQuestion is one question block in page order. Feedback is empty when
// the question has none.
type QuizQuestion struct {
	Info     string
	Question string
	Feedback string
}

// ParseQuizSummary extracts the quiz name and the review page address from
// a quiz summary page. ReviewURL is empty when no review link exists, which
// callers treat as a failed item rather than an error.
func ParseQuizSummary(body []byte) (QuizSummary, error) {
	region, err := mainRegion(body)
	if err != nil {
		return QuizSummary{}, err
	}
	sum := QuizSummary{
		Name: strings.TrimSpace(region.Find("h1, h2").First().Text()),
	}
	region.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		kind, isModule := moodle.KindOfURL(href)
		if isModule && kind == moodle.KindQuiz && strings.Contains(href, "review.php") {
			sum.ReviewURL = href
			return false
		}
		return true
	})
	return sum, nil
}

// ParseQuiz extracts the summary block and the ordered question triples of
// a quiz review page.
func ParseQuiz(body []byte) (*QuizDocument, error) {
	region, err := mainRegion(body)
	if err != nil {
		return nil, err
	}
	main := region.Find(`div[role="main"]`).First()
	if main.Length() == 0 {
		return nil, &moodle.ParseError{Page: "quiz review", Missing: "main region"}
	}
	summaryTable := main.Find("table.quizreviewsummary").First()
	if summaryTable.Length() == 0 {
		return nil, &moodle.ParseError{Page: "quiz review", Missing: "review summary table"}
	}
	// The table element itself must reach the converter, not just its
	// inner rows, or the markdown table layout is lost.
	summary, err := outerMarkdown(summaryTable)
	if err != nil {
		return nil, err
	}

	doc := &QuizDocument{Summary: summary}

	infos := main.Find(`div[id*="question-"] > div.info`)
	contents := main.Find(`div[id*="question-"] > div.content`)

	for i := 0; i < contents.Length(); i++ {
		var q QuizQuestion
		if i < infos.Length() {
			if text, err := toMarkdown(infos.Eq(i)); err == nil {
				q.Info = text
			}
		}
		blocks := contents.Eq(i).ChildrenFiltered("div")
		if blocks.Length() == 0 {
			log.Warn().Int("question", i+1).Msg("Question without content block")
			continue
		}
		if text, err := toMarkdown(blocks.Eq(0)); err == nil {
			q.Question = text
		}
		if blocks.Length() > 1 {
			if text, err := toMarkdown(blocks.Eq(1)); err == nil {
				q.Feedback = text
			}
		}
		doc.Questions = append(doc.Questions, q)
	}

	seen := map[string]struct{}{}
	contents.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if _, dup := seen[src]; dup || src == "" {
			return
		}
		seen[src] = struct{}{}
		doc.Images = append(doc.Images, src)
	})
	return doc, nil
}

func outerMarkdown(sel *goquery.Selection) (string, error) {
	h, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", err
	}
	out, err := converter.ConvertString(h)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ImageRewriter maps an embedded image address to a local relative path.
// Returning false leaves the reference absolute.
type ImageRewriter func(src string) (string, bool)

// RenderQuizMarkdown renders the summary first, then each question's
// info, question and feedback in that fixed order, with a blank feedback
// placeholder for questions that have none. Image references accepted by
// the rewriter are replaced with the returned local path.
func RenderQuizMarkdown(doc *QuizDocument, rewrite ImageRewriter) string {
	var b strings.Builder
	b.WriteString(doc.Summary)
	b.WriteString("\n\n")
	for _, q := range doc.Questions {
		b.WriteString(q.Info)
		b.WriteString("\n\n")
		b.WriteString(q.Question)
		b.WriteString("\n\n")
		if q.Feedback != "" {
			b.WriteString(q.Feedback)
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	out := b.String()

	if rewrite != nil {
		for _, src := range doc.Images {
			if !strings.Contains(out, src) {
				continue
			}
			if local, ok := rewrite(src); ok {
				out = strings.ReplaceAll(out, src, local)
			}
		}
	}
	return out
}
