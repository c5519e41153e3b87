package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/logging"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg and ffprobe are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := logging.Discard()
			doctor := ffmpeg.NewDoctor(ffmpeg.NewRunner(logger), cfg.FFmpegPath(), cfg.FFprobePath(), logger)
			rep := doctor.Refresh(cmd.Context())

			fmt.Fprintln(cmd.OutOrStdout(), renderDoctorTable(rep))
			if !rep.FFmpeg.Available {
				return fmt.Errorf("ffmpeg is required for exports")
			}
			return nil
		},
	}
}

func renderDoctorTable(rep *ffmpeg.Report) string {
	headers := []string{"Tool", "Available", "Version", "Path", "Detail"}
	rows := make([][]string, 0, 2)
	for _, info := range []ffmpeg.ToolInfo{rep.FFmpeg, rep.FFprobe} {
		rows = append(rows, []string{info.Name, yesNo(info.Available), info.Version, info.Path, info.Error})
	}
	return renderTable(headers, rows, nil)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
