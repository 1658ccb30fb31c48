package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

type runFlags struct {
	script       string
	platforms    string
	enhance      bool
	noEnhance    bool
	noThumbnails bool
	noSubtitles  bool
	music        string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce the videos of one script",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScript(ctx, cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVarP(&f.script, "script", "s", "", "Path to the script JSON file")
	cmd.Flags().StringVarP(&f.platforms, "platforms", "p", "", "Comma separated platforms (default from PLATFORMS)")
	cmd.Flags().BoolVar(&f.enhance, "enhance", false, "Enhance the script before production")
	cmd.Flags().BoolVar(&f.noEnhance, "no-enhance", false, "Use the script as written")
	cmd.Flags().BoolVar(&f.noThumbnails, "no-thumbnails", false, "Skip thumbnail generation")
	cmd.Flags().BoolVar(&f.noSubtitles, "no-subtitles", false, "Skip subtitle generation")
	cmd.Flags().StringVar(&f.music, "music", "", "Background music file mixed under the narration")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

// options combines the flags with the configured defaults.
func (f *runFlags) options(cfg config.PipelineConfig) (pipeline.Options, []script.Platform, error) {
	csv := f.platforms
	if csv == "" {
		csv = cfg.Platforms
	}
	platforms, err := script.ParsePlatforms(csv)
	if err != nil {
		return pipeline.Options{}, nil, err
	}

	enhance := cfg.Enhance
	switch {
	case f.enhance && f.noEnhance:
		return pipeline.Options{}, nil, errors.New("--enhance and --no-enhance are mutually exclusive")
	case f.enhance:
		enhance = true
	case f.noEnhance:
		enhance = false
	}

	music := f.music
	if music == "" {
		music = cfg.MusicPath
	}
	return pipeline.Options{
		Enhance:    enhance,
		Thumbnails: cfg.Thumbnails && !f.noThumbnails,
		Subtitles:  cfg.Subtitles && !f.noSubtitles,
		MusicPath:  music,
	}, platforms, nil
}

func runScript(ctx context.Context, out io.Writer, f *runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	sc, err := script.Load(f.script)
	if err != nil {
		return err
	}
	opts, platforms, err := f.options(cfg.Pipeline)
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	orchestrator, err := buildPipeline(ctx, cfg, st.checkpoints)
	if err != nil {
		return err
	}

	opts.OnStatus = func(status jobs.Status) {
		log.Info("%s: %s", sc.Title, status)
	}
	log.Info("Producing %q (%s) for %v", sc.Title, sc.Niche, platforms)
	res := orchestrator.Run(ctx, sc, platforms, opts)
	printResult(out, res)
	if !res.Success() {
		if res.Failure != nil {
			return res.Failure
		}
		return fmt.Errorf("run ended with status %s", res.Status)
	}
	return nil
}

func printResult(out io.Writer, res *pipeline.JobResult) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Job:      %s\n", res.JobID)
	fmt.Fprintf(out, "Status:   %s\n", res.Status)
	fmt.Fprintf(out, "Duration: %.1fs\n", res.Duration.Seconds())

	printPaths := func(label string, paths map[string]string) {
		if len(paths) == 0 {
			return
		}
		keys := make([]string, 0, len(paths))
		for k := range paths {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "%s:\n", label)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-8s %s\n", k, paths[k])
		}
	}
	printPaths("Videos", platformPaths(res.VideoPaths))
	printPaths("Thumbnails", platformPaths(res.ThumbnailPaths))
	printPaths("Subtitles", res.SubtitlePaths)

	if errs := res.ErrorStrings(); len(errs) > 0 {
		fmt.Fprintf(out, "Errors (%d):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	switch {
	case res.Failure != nil:
		fmt.Fprintf(out, "Hint: %s\n", pipeline.Advice(res.Failure))
	case len(res.Errors) > 0:
		fmt.Fprintf(out, "Hint: %s\n", pipeline.Advice(res.Errors[0]))
	}
}

func platformPaths(in map[script.Platform]string) map[string]string {
	out := make(map[string]string, len(in))
	for p, path := range in {
		out[string(p)] = path
	}
	return out
}
