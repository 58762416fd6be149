// Package cmd implements the CLI commands for ingest.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/logger"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Video ingestion pipeline",
	Long: `ingest turns a raw upload in object storage into a web-optimized MP4,
a poster thumbnail and five sampled frames.

Configuration is read from the environment (and a .env file if present):
  AWS_REGION, S3_BUCKET, PROCESSED_BUCKET  - object storage
  FFMPEG_PATH, FFPROBE_PATH                - encoding toolchain
  SCRATCH_DIR                              - local working directory

Example:
  S3_BUCKET=uploads ingest run --raw-key raw/clip.mov --owner-id user-1`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initLogging(cmd)
	}

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("pretty", false, "pretty-print JSON output")
}

// initLogging loads .env and installs the JSON logger on stderr so stdout
// carries only command output.
func initLogging(cmd *cobra.Command) error {
	_ = godotenv.Load()

	level := os.Getenv("LOG_LEVEL")
	if cmd.Flags().Changed("log-level") {
		level, _ = cmd.Flags().GetString("log-level")
	}
	if level == "" {
		level = config.DefaultLogLevel
	}

	slog.SetDefault(logger.NewWithWriter(level, cmd.ErrOrStderr()))
	return nil
}

// writeJSON prints v to w, indented when --pretty is set.
func writeJSON(cmd *cobra.Command, w io.Writer, v any) error {
	pretty, _ := cmd.Flags().GetBool("pretty")

	var output []byte
	var err error
	if pretty {
		output, err = json.MarshalIndent(v, "", "  ")
	} else {
		output, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	_, err = fmt.Fprintln(w, string(output))
	return err
}
