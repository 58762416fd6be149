package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/transcoder"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether ffmpeg and ffprobe can run",
	Long: `Probe the encoder and inspector binaries with -version and print the
result as JSON. With --wait, retry with the configured attempts and interval
before giving up, exactly as a job does.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Bool("wait", false, "wait for the toolchain using the configured retry policy")
}

// ToolchainStatus is the output of the check command.
type ToolchainStatus struct {
	FFmpegPath       string `json:"ffmpeg_path"`
	FFprobePath      string `json:"ffprobe_path"`
	EncoderAvailable bool   `json:"encoder_available"`
	InspectorReady   bool   `json:"inspector_available"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	wait, _ := cmd.Flags().GetBool("wait")

	checker := transcoder.NewChecker(transcoder.NewFFmpegConfig(cfg, slog.Default()))
	ctx := cmd.Context()

	if wait {
		if err := checker.WaitReady(ctx); err != nil {
			return err
		}
	}

	status := ToolchainStatus{
		FFmpegPath:       cfg.Toolchain.FFmpegPath,
		FFprobePath:      cfg.Toolchain.FFprobePath,
		EncoderAvailable: checker.IsEncoderAvailable(ctx),
		InspectorReady:   checker.IsInspectorAvailable(ctx),
	}
	if err := writeJSON(cmd, cmd.OutOrStdout(), status); err != nil {
		return err
	}
	if !status.EncoderAvailable || !status.InspectorReady {
		return fmt.Errorf("toolchain not available")
	}
	return nil
}
