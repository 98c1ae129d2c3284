package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacklens/stacklens/pkg/frames"
	"github.com/stacklens/stacklens/pkg/sourcemaps"
)

// processCommand creates the process command for symbolicating event files.
func (c *CLI) processCommand() *cobra.Command {
	var (
		release       string
		dist          string
		output        string
		allowScraping bool
	)

	cmd := &cobra.Command{
		Use:   "process <event.json>",
		Short: "Symbolicate the stack traces in an event file",
		Long: `Process reads a crash event from a JSON file, resolves the minified
frames against release artifacts and scraped sources, and applies source
maps to recover original file names, line numbers, and function names.

The result is written to stdout, or to a file with --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("allow-scraping") {
				cfg.Fetch.AllowScraping = allowScraping
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}
			event, err := frames.ParseEvent(data)
			if err != nil {
				return fmt.Errorf("parse event: %w", err)
			}
			traces := event.AllStacktraces()
			if len(traces) == 0 {
				return fmt.Errorf("event has no stacktraces")
			}
			if release != "" {
				event.Release = release
			}
			if dist != "" {
				event.Dist = dist
			}

			resolver, byteCache, err := c.newResolver(ctx, cfg)
			if err != nil {
				return err
			}
			defer byteCache.Close()

			proc := sourcemaps.NewProcessor(resolver, fetchPolicy(cfg, event.Release, event.Dist))
			proc.MaxFetches = cfg.Fetch.MaxFetches
			proc.Logger = c.Logger

			frameCount := 0
			for _, trace := range traces {
				frameCount += len(trace.Frames)
			}

			prog := newProgress(c.Logger)
			spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Symbolicating %d frames...", frameCount))
			spinner.Start()

			result, err := proc.ProcessEvent(ctx, event)
			spinner.Stop()
			if err != nil {
				printError("Symbolication failed")
				return err
			}
			prog.done(fmt.Sprintf("Symbolicated %d frames", frameCount))

			printSuccess("Applied %d source maps", result.SourcemapsApplied)
			printStats(frameCount, result.SourcemapsApplied, len(result.Errors))
			for _, record := range result.Errors {
				printWarning("%s", record.String())
			}
			printDetail("Run: %s, %d fetches", result.RunID, result.Fetches)

			out, err := json.MarshalIndent(event, "", "  ")
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if output == "" {
				printNewline()
				fmt.Println(string(out))
				return nil
			}
			if err := os.WriteFile(output, append(out, '\n'), 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVar(&release, "release", "", "release to resolve artifacts for (overrides the event)")
	cmd.Flags().StringVar(&dist, "dist", "", "distribution within the release (overrides the event)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the processed event to a file")
	cmd.Flags().BoolVar(&allowScraping, "allow-scraping", true, "permit fetching sources from the live web")

	return cmd
}
