package app

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jku-tools/moodle-mirror/internal/crawl"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

func newGradesCmd() *cobra.Command {
	var (
		includeOld bool
		overview   bool
	)

	cmd := &cobra.Command{
		Use:   "grades",
		Short: "Show grade tables of your courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			engine := crawl.New(s.client, crawl.DefaultConfig())

			if overview {
				grades, err := engine.GradesOverview(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCOURSE\tGRADE")
				for id, g := range grades {
					fmt.Fprintf(w, "%d\t%s\t%s\n", id, g.CourseName, g.Grade)
				}
				return w.Flush()
			}

			now := time.Now().Unix()
			var filter crawl.Filter
			if !includeOld {
				filter = func(c moodle.Course) bool { return !c.Ended(now) }
			}
			courses, err := engine.Courses(ctx, filter)
			if err != nil {
				return err
			}

			stream := engine.Grades(ctx, courses)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for report := range stream.C() {
				if len(report.Evaluations) == 0 {
					continue
				}
				fmt.Fprintf(w, "%s\t\t\n", report.Course.ParseName())
				for _, e := range report.Evaluations {
					fmt.Fprintf(w, "  %s\t%s\t%s\n", e.Name, e.Grade, e.GradeRange)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return stream.Err()
		},
	}
	cmd.Flags().BoolVar(&includeOld, "old", false, "include courses that already ended")
	cmd.Flags().BoolVar(&overview, "overview", false, "show the accumulated grade per course instead of full tables")
	return cmd
}
