// Package classify turns raw portal pages into typed entities: course
// detail (sections and classified links), grade tables, and quiz content.
// The selectors are specific to one portal's page shapes and are allowed to
// be brittle; a failed parse surfaces as *moodle.ParseError and is handled
// as a per-item failure by the callers.
package classify

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

var converter = md.NewConverter("", true, nil)

// mainRegion locates the region-main-box every content page wraps its
// payload in.
func mainRegion(body []byte) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	region := doc.Find("body div#region-main-box").First()
	if region.Length() == 0 {
		return nil, &moodle.ParseError{Page: "content page", Missing: "region-main-box"}
	}
	return region, nil
}

// toMarkdown renders the inner HTML of a selection to markdown with
// leading/trailing whitespace per line stripped.
func toMarkdown(sel *goquery.Selection) (string, error) {
	h, err := sel.Html()
	if err != nil {
		return "", err
	}
	out, err := converter.ConvertString(h)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
