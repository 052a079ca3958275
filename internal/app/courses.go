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

func newCoursesCmd() *cobra.Command {
	var includeOld bool

	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List enrolled courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			engine := crawl.New(s.client, crawl.DefaultConfig())

			now := time.Now().Unix()
			var filter crawl.Filter
			if !includeOld {
				filter = func(c moodle.Course) bool { return !c.Ended(now) }
			}
			courses, err := engine.Courses(ctx, filter)
			if err != nil {
				return err
			}
			moodle.SortByEndDate(courses)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSEMESTER\tENDS")
			for _, c := range courses {
				ends := "-"
				if c.EndDate != 0 {
					ends = time.Unix(c.EndDate, 0).Format("2006-01-02")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.ParseName(), semesterOf(c), ends)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&includeOld, "old", false, "include courses that already ended")
	return cmd
}

// semesterOf pulls the trailing semester token out of the portal's comma
// separated course name, empty when the name has no such token.
func semesterOf(c moodle.Course) string {
	parts := splitName(c.FullName)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
