package classify

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// ParseCourseDetail extracts the ordered topic sections and every module
// link of a course detail page. Links whose module segment is unrecognized
// are kept with the unknown kind so they stay downloadable once a strategy
// exists for them.
func ParseCourseDetail(courseID int64, body []byte) (*moodle.CourseDetail, error) {
	region, err := mainRegion(body)
	if err != nil {
		return nil, err
	}

	detail := &moodle.CourseDetail{CourseID: courseID}

	region.Find("ul.topics > li").Each(func(_ int, sec *goquery.Selection) {
		text, err := toMarkdown(sec)
		if err != nil {
			log.Warn().Int64("course", courseID).Err(err).Msg("Skipping unrenderable section")
			return
		}
		detail.Sections = append(detail.Sections, moodle.Section{Text: text})
	})

	// Module links all carry an activity icon, which is what separates
	// them from the portal chrome's anchors.
	seen := map[string]struct{}{}
	region.Find("a img").Each(func(_ int, img *goquery.Selection) {
		anchor := img.ParentsFiltered("a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		kind, isModule := moodle.KindOfURL(href)
		if !isModule {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		detail.Links = append(detail.Links, moodle.ResourceLink{
			URL:      href,
			Kind:     kind,
			CourseID: courseID,
		})
	})

	return detail, nil
}
