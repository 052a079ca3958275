// Package moodle holds the domain types shared by the crawl, classify and
// download layers: courses, course content, evaluations, calendar events and
// download results.
package moodle

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Kind classifies a resource link by the Moodle module that serves it. The
// value is the path segment following /mod/ in the link, so new module types
// arrive as KindUnknown instead of breaking classification.
type Kind string

const (
	KindResource  Kind = "resource"
	KindFolder    Kind = "folder"
	KindURL       Kind = "url"
	KindStreamURL Kind = "streamurl"
	KindQuiz      Kind = "quiz"
	KindPage      Kind = "page"
	KindAssign    Kind = "assign"
	KindForum     Kind = "forum"
	KindChoice    Kind = "choice"
	KindGrouptool Kind = "grouptool"
	KindCheckmark Kind = "checkmark"
	KindWiki      Kind = "wiki"
	KindZoom      Kind = "zoom"
	KindUnknown   Kind = "unknown"
)

var knownKinds = map[Kind]struct{}{
	KindResource: {}, KindFolder: {}, KindURL: {}, KindStreamURL: {},
	KindQuiz: {}, KindPage: {}, KindAssign: {}, KindForum: {},
	KindChoice: {}, KindGrouptool: {}, KindCheckmark: {}, KindWiki: {},
	KindZoom: {},
}

// KindOfURL extracts the module kind from a Moodle link. Links of the shape
// .../mod/<kind>/... map onto the known kinds, anything else after /mod/ is
// KindUnknown. The second return value is false when the URL does not point
// at a module at all.
func KindOfURL(raw string) (Kind, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return KindUnknown, false
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	parts := strings.Split(path.Clean(p), "/")
	for i, seg := range parts {
		if seg == "mod" && i+1 < len(parts) {
			k := Kind(strings.ToLower(parts[i+1]))
			if _, ok := knownKinds[k]; ok {
				return k, true
			}
			return KindUnknown, true
		}
	}
	return KindUnknown, false
}

// Course is one enrolled course from the course list service. ID is the only
// field used for identity; everything else is display data.
type Course struct {
	ID          int64  `json:"id"`
	FullName    string `json:"fullname"`
	ShortName   string `json:"shortname"`
	StartDate   int64  `json:"startdate"`
	EndDate     int64  `json:"enddate"`
	Visible     bool   `json:"visible"`
	Hidden      bool   `json:"hidden"`
	IsFavourite bool   `json:"isfavourite"`
	ViewURL     string `json:"viewurl"`
	Category    string `json:"coursecategory"`

	// Detail is attached by the crawl engine when detail enrichment is
	// requested; nil otherwise.
	Detail *CourseDetail `json:"-"`
}

// ParseName returns the human course name from the portal's comma separated
// display name ("303.039, Logic I, 2023S" style). Falls back to the full
// name when the format is absent.
func (c Course) ParseName() string {
	parts := strings.SplitN(c.FullName, ",", 3)
	if len(parts) < 2 {
		return strings.TrimSpace(c.FullName)
	}
	return strings.TrimSpace(parts[1])
}

// Ended reports whether the course's time window closed before t (unix
// seconds). Courses without an end date never end.
func (c Course) Ended(t int64) bool {
	return c.EndDate != 0 && c.EndDate < t
}

// SortByEndDate orders courses by end date descending so the current
// semester lists first. Courses without an end date sort before dated ones.
func SortByEndDate(courses []Course) {
	sort.SliceStable(courses, func(i, j int) bool {
		a, b := courses[i].EndDate, courses[j].EndDate
		if a == 0 || b == 0 {
			return a == 0 && b != 0
		}
		return a > b
	})
}

// CourseDetail is the parsed detail page of one course: the ordered topic
// sections and every module link found on the page.
type CourseDetail struct {
	CourseID int64
	Sections []Section
	Links    []ResourceLink
}

// Section is one topic block of a course page, already rendered to markdown.
type Section struct {
	Text string
}

// ResourceLink is a classified link found on a course page. CourseID refers
// back to the owning detail by identifier; the detail owns the link list.
type ResourceLink struct {
	URL      string
	Kind     Kind
	CourseID int64
}

// SourceURL implements Downloadable.
func (l ResourceLink) SourceURL() string { return l.URL }

// ResourceKind implements Downloadable.
func (l ResourceLink) ResourceKind() Kind { return l.Kind }

// Evaluation is one row of a course's grade table. It is associated with a
// course only logically, not owned by a CourseDetail.
type Evaluation struct {
	Name       string
	URL        string
	Kind       Kind
	Grade      string
	GradeRange string
}

// SourceURL implements Downloadable.
func (e Evaluation) SourceURL() string { return e.URL }

// ResourceKind implements Downloadable.
func (e Evaluation) ResourceKind() Kind { return e.Kind }

// Downloadable is anything the download manager can be asked to acquire.
type Downloadable interface {
	SourceURL() string
	ResourceKind() Kind
}

// CalendarEvent is one upcoming event from the calendar service.
type CalendarEvent struct {
	ID          int64
	Name        string
	Description string
	ModuleName  string
	EventType   string
	TimeStart   int64
	TimeSort    int64
	CourseID    int64
	CourseName  string
	URL         string
}

// DownloadOutcome describes the fate of a single requested item. Path is
// empty when OK is false.
type DownloadOutcome struct {
	URL  string
	OK   bool
	Path string
}

// BatchResult partitions a download batch: every input item lands in exactly
// one of Done or Failed.
type BatchResult struct {
	Done   []DownloadOutcome
	Failed []DownloadOutcome
}

// Len returns the number of outcomes across both sets.
func (r BatchResult) Len() int { return len(r.Done) + len(r.Failed) }
