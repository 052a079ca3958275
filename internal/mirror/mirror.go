// Package mirror is the top-level orchestration: enumerate courses, diff
// their content against the ledger, download what is new, and recover from
// session expiry exactly once by re-authenticating and resuming the
// unfinished remainder.
package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jku-tools/moodle-mirror/internal/crawl"
	"github.com/jku-tools/moodle-mirror/internal/download"
	"github.com/jku-tools/moodle-mirror/internal/ledger"
	"github.com/jku-tools/moodle-mirror/internal/session"
	"github.com/jku-tools/moodle-mirror/pkg/logging"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// Options selects what a mirror run covers.
type Options struct {
	// Root is the destination directory; one subdirectory per course,
	// one ledger file at the root.
	Root string
	// Search keeps only courses whose name contains one of the terms.
	Search []string
	// ExamsOnly mirrors evaluations instead of course content and
	// bypasses the ledger, matching a fresh grade export every run.
	ExamsOnly bool
	// IncludeOld keeps courses whose time window has closed.
	IncludeOld bool
	// Courses, when set, is an explicit selection; no list fetch occurs.
	Courses []moodle.Course
	// Relogin re-authenticates the session after a detected expiry. Nil
	// disables recovery.
	Relogin func(ctx context.Context) error
}

// Report summarizes a run.
type Report struct {
	Courses  int
	Done     int
	Failed   int
	Duration time.Duration
}

// Mirror wires the session, crawl engine and download manager together.
type Mirror struct {
	client    *session.Client
	engine    *crawl.Engine
	downloads *download.Manager
	log       zerolog.Logger
}

// New creates a mirror.
func New(client *session.Client, engine *crawl.Engine, downloads *download.Manager) *Mirror {
	return &Mirror{client: client, engine: engine, downloads: downloads, log: logging.Component("mirror")}
}

// Run mirrors every selected course under opts.Root. Session expiry is
// handled here, once: the session is reset, Relogin runs, and enumeration
// restarts on the subset of courses not yet completed. Per-course failures
// are logged and skipped; cancellation aborts after the ledger flush.
func (m *Mirror) Run(ctx context.Context, opts Options) (*Report, error) {
	filter := buildFilter(opts, time.Now().Unix())
	report := &Report{}
	completed := map[int64]bool{}
	start := time.Now()

	reloginUsed := false
	for {
		err := m.runPass(ctx, opts, filter, completed, report)
		if err == nil {
			break
		}
		if errors.Is(err, moodle.ErrSessionExpired) && !reloginUsed && opts.Relogin != nil {
			reloginUsed = true
			m.log.Warn().Msg("Session expired mid-run, re-authenticating")
			m.client.Reset()
			if lerr := opts.Relogin(ctx); lerr != nil {
				return report, lerr
			}
			continue
		}
		report.Duration = time.Since(start)
		return report, err
	}
	report.Duration = time.Since(start)
	return report, nil
}

// runPass enumerates the not-yet-completed courses and mirrors each one.
func (m *Mirror) runPass(ctx context.Context, opts Options, filter crawl.Filter, completed map[int64]bool, report *Report) error {
	stream, err := m.engine.Enumerate(ctx, crawl.EnumerateOptions{
		Detail:   !opts.ExamsOnly,
		Explicit: opts.Courses,
		Filter: func(c moodle.Course) bool {
			return !completed[c.ID] && (filter == nil || filter(c))
		},
	})
	if err != nil {
		return err
	}

	for c := range stream.C() {
		if err := m.mirrorCourse(ctx, opts, c, report); err != nil {
			if moodle.IsFatal(err) {
				return err
			}
			m.log.Error().Str("course", c.ParseName()).Err(err).Msg("Course mirror failed")
			continue
		}
		completed[c.ID] = true
		report.Courses++
		m.log.Info().Str("course", c.ParseName()).Msg("Course done")
	}
	return stream.Err()
}

// mirrorCourse downloads everything new for one course. The ledger flush
// is deferred so an interrupt mid-batch still persists completed items;
// the deferred call is a no-op once the normal flush has run.
func (m *Mirror) mirrorCourse(ctx context.Context, opts Options, c moodle.Course, report *Report) error {
	dir := filepath.Join(opts.Root, dirName(c.ParseName()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	evals, err := m.engine.CourseGrades(ctx, c)
	if err != nil {
		if moodle.IsFatal(err) {
			return err
		}
		m.log.Warn().Str("course", c.ParseName()).Err(err).Msg("Grade table unavailable")
	}

	var items []moodle.Downloadable
	if !opts.ExamsOnly && c.Detail != nil {
		for _, l := range c.Detail.Links {
			items = append(items, l)
		}
	}
	for _, e := range evals {
		items = append(items, e)
	}

	batch, err := ledger.Open(opts.Root)
	if err != nil {
		return err
	}
	defer func() {
		if err := batch.Flush(); err != nil {
			m.log.Error().Err(err).Msg("Deferred ledger flush failed")
		}
	}()

	fresh := items
	if !opts.ExamsOnly {
		fresh, _ = batch.Diff(items)
	}

	result, derr := m.downloads.Download(ctx, dir, fresh)
	for _, out := range result.Done {
		batch.MarkDone(out.URL)
	}
	report.Done += len(result.Done)
	report.Failed += len(result.Failed)
	if derr != nil {
		return derr
	}
	return batch.Flush()
}

// buildFilter combines the name search and time window options into one
// pure predicate over bare course records.
func buildFilter(opts Options, now int64) crawl.Filter {
	return func(c moodle.Course) bool {
		if !opts.IncludeOld && c.Ended(now) {
			return false
		}
		if len(opts.Search) == 0 {
			return true
		}
		name := strings.ToLower(c.FullName)
		for _, term := range opts.Search {
			if strings.Contains(name, strings.ToLower(term)) {
				return true
			}
		}
		return false
	}
}

func dirName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "course"
	}
	return name
}
