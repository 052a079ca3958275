package classify

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// ParseEvaluationTable builds one Evaluation per data row of a course's
// grade page. The grade and range columns are located by header id, not
// position, because courses inject extra columns. Summary rows carry no
// row-level anchor and are skipped. A course without a grade table yields
// an empty list, not an error.
func ParseEvaluationTable(body []byte) ([]moodle.Evaluation, error) {
	region, err := mainRegion(body)
	if err != nil {
		return nil, err
	}
	table := region.Find("table").First()
	if table.Length() == 0 {
		return nil, nil
	}

	headRow := table.Find("thead tr").First()
	gradeCol, rangeCol := -1, -1
	headRow.Children().Each(func(i int, cell *goquery.Selection) {
		switch id, _ := cell.Attr("id"); id {
		case "grade":
			gradeCol = i
		case "range":
			rangeCol = i
		}
	})
	if gradeCol < 0 || rangeCol < 0 {
		return nil, &moodle.ParseError{Page: "grade table", Missing: "grade/range header"}
	}

	var evals []moodle.Evaluation
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("th a").First()
		cells := row.Find("td")
		if cells.Length() <= 1 || anchor.Length() == 0 {
			return
		}
		href, _ := anchor.Attr("href")
		kind, _ := moodle.KindOfURL(href)
		evals = append(evals, moodle.Evaluation{
			Name: strings.TrimSpace(anchor.Text()),
			URL:  href,
			Kind: kind,
			// The row header th occupies the first column, so data
			// cells are offset by one against the header indexes.
			Grade:      cellText(cells, gradeCol-1),
			GradeRange: cellText(cells, rangeCol-1),
		})
	})
	return evals, nil
}

func cellText(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(i).Text())
}

// OverviewGrade is one course row of the global grade overview report.
type OverviewGrade struct {
	CourseName string
	Grade      string
}

// ParseGradeOverview maps course id to course name and accumulated grade on
// the grade report overview page.
func ParseGradeOverview(body []byte) (map[int64]OverviewGrade, error) {
	region, err := mainRegion(body)
	if err != nil {
		return nil, err
	}
	out := map[int64]OverviewGrade{}
	region.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("td a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		id, err := strconv.ParseInt(u.Query().Get("id"), 10, 64)
		if err != nil {
			return
		}
		out[id] = OverviewGrade{
			CourseName: strings.TrimSpace(anchor.Text()),
			Grade:      strings.TrimSpace(row.Find("td").Last().Text()),
		}
	})
	return out, nil
}
