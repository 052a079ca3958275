package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jku-tools/moodle-mirror/internal/crawl"
	"github.com/jku-tools/moodle-mirror/internal/download"
	"github.com/jku-tools/moodle-mirror/internal/mirror"
)

func newDownloadCmd() *cobra.Command {
	var (
		root      string
		search    []string
		examsOnly bool
		old       bool
		workers   int
		limitMbit float64
		iface     string
		height    int
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Mirror course content into a local directory",
		Long: `download enumerates your courses and fetches their resources, folders,
external links, streams and quizzes into one subdirectory per course.
Already-mirrored files are recorded in urls.txt under the target directory
and skipped on later runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}

			crawlCfg := crawl.DefaultConfig()
			dlCfg := download.DefaultConfig()
			if workers > 0 {
				crawlCfg.Workers = workers
				dlCfg.Workers = workers
			}
			dlCfg.CeilingMbit = limitMbit
			dlCfg.Interface = iface
			if height > 0 {
				dlCfg.TargetHeight = height
			}

			engine := crawl.New(s.client, crawlCfg)
			manager := download.New(s.client, dlCfg, nil)
			m := mirror.New(s.client, engine, manager)

			report, err := m.Run(ctx, mirror.Options{
				Root:       root,
				Search:     search,
				ExamsOnly:  examsOnly,
				IncludeOld: old,
				Relogin:    s.relogin,
			})
			if report != nil {
				fmt.Printf("Mirrored %d courses: %d files downloaded, %d failed (%s)\n",
					report.Courses, report.Done, report.Failed, report.Duration.Round(time.Second))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&root, "dir", "d", "", "target directory (default: configured root)")
	cmd.Flags().StringSliceVarP(&search, "search", "s", nil, "only mirror courses whose name contains one of the terms")
	cmd.Flags().BoolVar(&examsOnly, "exams", false, "mirror graded evaluations instead of course content")
	cmd.Flags().BoolVar(&old, "old", false, "include courses that already ended")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent fetches and downloads (default: configured)")
	cmd.Flags().Float64Var(&limitMbit, "limit-mbit", -1, "bandwidth ceiling in Mbit/s, 0 disables the gate (default: configured)")
	cmd.Flags().StringVar(&iface, "iface", "", "network interface to meter (default: configured, empty = whole machine)")
	cmd.Flags().IntVar(&height, "height", 0, "preferred video height for external streams (default: configured)")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if root == "" {
			root = cfg.Root
		}
		if workers == 0 {
			workers = cfg.Workers
		}
		if limitMbit < 0 {
			limitMbit = cfg.BandwidthMbit
		}
		if iface == "" {
			iface = cfg.Interface
		}
		if height == 0 {
			height = cfg.TargetHeight
		}
	}
	return cmd
}
