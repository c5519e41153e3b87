package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/jobs"
	"github.com/halworsen/footgas/internal/logging"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List exports submitted to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			database, err := ctx.openDB(logging.Discard())
			if err != nil {
				return err
			}
			defer database.Close()

			list, err := jobs.NewRepository(database.Conn()).ListJobs(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list exports: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No exports yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(list, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of exports to show, newest first")
	return cmd
}

func renderJobsTable(list []*jobs.Job, now time.Time) string {
	headers := []string{"ID", "Status", "Progress", "Range", "Limit", "Size", "Video", "Created", "Detail"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}

	rows := make([][]string, 0, len(list))
	for _, j := range list {
		size, video := "-", "-"
		if j.OutputBytes > 0 {
			size = humanize.IBytes(uint64(j.OutputBytes))
		}
		if j.FinalKbps > 0 {
			video = strconv.Itoa(j.FinalKbps) + " kbps"
		}
		detail := j.Phase.String()
		if j.ErrorCode != "" {
			detail = j.ErrorCode
		}
		rows = append(rows, []string{
			shortID(j.ID),
			j.Status,
			fmt.Sprintf("%d%%", j.Progress),
			export.FormatTimecode(j.Request.StartMs, true) + "-" + export.FormatTimecode(j.Request.EndMs, true),
			strconv.FormatFloat(j.Request.MaxSizeMB, 'f', -1, 64) + " MB",
			size,
			video,
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			detail,
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
