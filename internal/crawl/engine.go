// Package crawl enumerates the remote course collection and fans out
// per-course fetches (detail pages, grade tables, calendar queries) over a
// bounded worker pool, yielding results in completion order.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jku-tools/moodle-mirror/internal/classify"
	"github.com/jku-tools/moodle-mirror/internal/session"
	"github.com/jku-tools/moodle-mirror/pkg/logging"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// Config configures crawl behavior
type Config struct {
	Workers      int           `json:"workers"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
}

// DefaultConfig returns default crawl configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:      4,
		FetchTimeout: 30 * time.Second,
	}
}

// Engine drives the concurrent enumeration of courses and their related
// resources through one shared session.
type Engine struct {
	client *session.Client
	cfg    *Config
	log    zerolog.Logger
}

// New creates a crawl engine.
func New(client *session.Client, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{client: client, cfg: cfg, log: logging.Component("crawl")}
}

// Filter is a pure predicate over bare course records; it must not need the
// detail page.
type Filter func(moodle.Course) bool

const courseListMethod = "core_course_get_enrolled_courses_by_timeline_classification"

type courseListArgs struct {
	Offset         int    `json:"offset"`
	Limit          int    `json:"limit"`
	Classification string `json:"classification"`
	Sort           string `json:"sort"`
}

// Courses fetches the enrolled course list (visible and hidden) in one
// batched service call, deduplicates by course id and applies the filter.
// No detail pages are fetched.
func (e *Engine) Courses(ctx context.Context, filter Filter) ([]moodle.Course, error) {
	replies, err := e.client.Service(ctx, []session.ServiceCall{
		{Index: 0, Method: courseListMethod, Args: courseListArgs{Classification: "all", Sort: "fullname"}},
		{Index: 1, Method: courseListMethod, Args: courseListArgs{Classification: "hidden", Sort: "fullname"}},
	})
	if err != nil {
		return nil, err
	}

	seen := map[int64]struct{}{}
	var courses []moodle.Course
	for _, raw := range replies {
		var payload struct {
			Courses []moodle.Course `json:"courses"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, &moodle.ParseError{Page: "course list", Missing: "courses payload"}
		}
		for _, c := range payload.Courses {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			if filter == nil || filter(c) {
				courses = append(courses, c)
			}
		}
	}
	e.log.Debug().Int("courses", len(courses)).Msg("Course list fetched")
	return courses, nil
}

// Related fans out one fetch per course over the engine's worker pool and
// streams results in completion order. A single item's failure drops that
// item; a fatal error (session expiry, cancellation) stops scheduling new
// fetches, lets in-flight ones finish, and surfaces once via Stream.Err.
func Related[T any](ctx context.Context, e *Engine, courses []moodle.Course, fetch func(context.Context, moodle.Course) (T, error)) *Stream[T] {
	out := newStream[T](len(courses))
	jobs := make(chan moodle.Course)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
				v, err := fetch(fctx, c)
				cancel()
				if err != nil {
					if moodle.IsFatal(err) {
						out.fail(err)
						return
					}
					e.log.Warn().
						Int64("course", c.ID).
						Err(err).
						Msg("Dropping item after fetch failure")
					continue
				}
				out.ch <- v
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			out.close()
		}()
		for _, c := range courses {
			select {
			case jobs <- c:
			case <-out.abort:
				return
			case <-ctx.Done():
				out.fail(ctx.Err())
				return
			}
		}
	}()
	return out
}

// WithDetail schedules a concurrent detail fetch for every given course and
// yields each course with its Detail attached, in completion order.
func (e *Engine) WithDetail(ctx context.Context, courses []moodle.Course) *Stream[moodle.Course] {
	return Related(ctx, e, courses, func(ctx context.Context, c moodle.Course) (moodle.Course, error) {
		page, err := e.client.Get(ctx, c.ViewURL)
		if err != nil {
			return c, err
		}
		detail, err := classify.ParseCourseDetail(c.ID, page.Body)
		if err != nil {
			return c, err
		}
		c.Detail = detail
		return c, nil
	})
}

// EnumerateOptions selects what Enumerate fetches. An Explicit list
// suppresses the course-list fetch entirely.
type EnumerateOptions struct {
	Detail   bool
	Explicit []moodle.Course
	Filter   Filter
}

// Enumerate is the crawl entry point: it yields filtered courses, with
// detail enrichment when requested. Without detail the stream is fed
// synchronously and costs zero additional network calls beyond the single
// list fetch.
func (e *Engine) Enumerate(ctx context.Context, opts EnumerateOptions) (*Stream[moodle.Course], error) {
	var list []moodle.Course
	if opts.Explicit != nil {
		for _, c := range opts.Explicit {
			if opts.Filter == nil || opts.Filter(c) {
				list = append(list, c)
			}
		}
	} else {
		var err error
		list, err = e.Courses(ctx, opts.Filter)
		if err != nil {
			return nil, err
		}
	}

	if !opts.Detail {
		out := newStream[moodle.Course](len(list))
		for _, c := range list {
			out.ch <- c
		}
		out.close()
		return out, nil
	}
	return e.WithDetail(ctx, list), nil
}

// GradeReport pairs a course with its parsed grade rows.
type GradeReport struct {
	Course      moodle.Course
	Evaluations []moodle.Evaluation
}

// CourseGrades fetches and parses the grade table of one course.
func (e *Engine) CourseGrades(ctx context.Context, c moodle.Course) ([]moodle.Evaluation, error) {
	u := e.client.SiteURL(fmt.Sprintf("/course/user.php?mode=grade&id=%d&user=%d", c.ID, e.client.UserID()))
	page, err := e.client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return classify.ParseEvaluationTable(page.Body)
}

// Grades fetches the grade table of every given course concurrently, in
// completion order.
func (e *Engine) Grades(ctx context.Context, courses []moodle.Course) *Stream[GradeReport] {
	return Related(ctx, e, courses, func(ctx context.Context, c moodle.Course) (GradeReport, error) {
		evals, err := e.CourseGrades(ctx, c)
		if err != nil {
			return GradeReport{}, err
		}
		return GradeReport{Course: c, Evaluations: evals}, nil
	})
}

// GradesOverview fetches the global grade report: course id mapped to name
// and accumulated grade.
func (e *Engine) GradesOverview(ctx context.Context) (map[int64]classify.OverviewGrade, error) {
	page, err := e.client.Get(ctx, e.client.SiteURL("/grade/report/overview/index.php"))
	if err != nil {
		return nil, err
	}
	return classify.ParseGradeOverview(page.Body)
}
