package app

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jku-tools/moodle-mirror/internal/crawl"
)

func newCalendarCmd() *cobra.Command {
	var (
		limit   int
		icsPath string
	)

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show upcoming deadlines and events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			engine := crawl.New(s.client, crawl.DefaultConfig())

			events, err := engine.Calendar(ctx, limit)
			if err != nil {
				return err
			}

			if icsPath != "" {
				f, err := os.Create(icsPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := crawl.WriteICS(f, events); err != nil {
					return fmt.Errorf("writing %s: %w", icsPath, err)
				}
				fmt.Printf("Wrote %d events to %s\n", len(events), icsPath)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tCOURSE\tEVENT")
			for _, e := range events {
				when := time.Unix(e.TimeStart, 0).Format("2006-01-02 15:04")
				fmt.Fprintf(w, "%s\t%s\t%s\n", when, e.CourseName, e.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 = portal default)")
	cmd.Flags().StringVar(&icsPath, "ics", "", "write events to an iCalendar file instead of listing them")
	return cmd
}
