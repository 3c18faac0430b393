package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/database"
	"github.com/dharsanguruparan/LyricSync/internal/isolation"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/renderstatus"
	"github.com/dharsanguruparan/LyricSync/internal/repository"
	"github.com/dharsanguruparan/LyricSync/internal/storage"
	"github.com/dharsanguruparan/LyricSync/internal/transcription"
)

const cliOwner = "cli"

// newProcessCmd runs one pipeline against an in-memory project so the
// inference setup can be checked without the stack.
func newProcessCmd() *cobra.Command {
	var mock, fallback, asJSON bool
	cmd := &cobra.Command{
		Use:   "process <audio-url>",
		Short: "Isolate vocals and transcribe one recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mock") {
				cfg.Inference.UseMocks = mock
			}
			if cmd.Flags().Changed("fallback") {
				cfg.FallbackOnIsolationFailure = fallback
			}
			log := logger.NewWithOutput(os.Stderr)

			ctx := cmd.Context()
			store := storage.NewMemoryStore()
			project := &model.Project{ID: "cli-" + uuid.NewString(), OwnerID: cliOwner, AudioURL: model.StringPtr(args[0])}
			if err := store.Create(ctx, project); err != nil {
				return err
			}

			isoOpts := isolation.OptionsFromConfig(cfg.Inference)
			isoOpts.Log = log.Component("isolation")
			txOpts := transcription.OptionsFromConfig(cfg.Inference)
			txOpts.Log = log.Component("transcription")
			out := cmd.ErrOrStderr()
			orchestrator := pipeline.New(store, isolation.New(isoOpts), transcription.New(txOpts), pipeline.Options{
				FallbackOnIsolationFailure: cfg.FallbackOnIsolationFailure,
				Leaser:                     store,
				Log:                        log.Component("pipeline"),
				Notifier: pipeline.NotifierFunc(func(ev pipeline.StatusEvent) {
					if ev.Message != "" {
						fmt.Fprintf(out, "%-13s %-12s %s\n", ev.Stage, ev.Status, ev.Message)
						return
					}
					fmt.Fprintf(out, "%-13s %s\n", ev.Stage, ev.Status)
				}),
			})

			outcome, err := orchestrator.RunPipeline(ctx, project.ID, cliOwner)
			if err != nil {
				return err
			}
			if outcome.Warning != "" {
				fmt.Fprintln(out, "warning:", outcome.Warning)
			}
			return printTranscript(cmd, outcome.Transcription, asJSON)
		},
	}
	cmd.Flags().BoolVar(&mock, "mock", false, "Use canned inference responses (overrides LYRICSYNC_USE_MOCKS)")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Continue on raw audio when isolation fails")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the timed transcript as JSON")
	return cmd
}

func printTranscript(cmd *cobra.Command, t *model.Transcription, asJSON bool) error {
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	fmt.Fprintln(w, t.Text)
	for _, word := range t.Words {
		fmt.Fprintf(w, "%8.2f %8.2f  %s\n", word.Start, word.End, word.Word)
	}
	return nil
}

func newWatchRenderCmd() *cobra.Command {
	var baseURL, projectID, ownerID string
	var interval, timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch-render <job-id>",
		Short: "Follow a video render job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.RenderStatusURL
			}
			if interval <= 0 {
				interval = cfg.PollInterval
			}
			log := logger.NewWithOutput(os.Stderr)
			ctx := cmd.Context()

			// With a project the finished render is confirmed against the
			// project record in Postgres.
			var store renderstatus.ProjectReader
			if projectID != "" {
				if ownerID == "" {
					return errors.New("--owner is required with --project")
				}
				if cfg.DatabaseURL == "" {
					return errors.New("DATABASE_URL is required with --project")
				}
				pool, err := database.Connect(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				store = repository.NewProjectRepository(pool)
			}
			poller := renderstatus.NewPoller(
				renderstatus.NewClient(baseURL, nil, log.Component("renderstatus")),
				store, interval, log.Component("renderstatus"),
			)

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			w := cmd.OutOrStdout()
			var last renderstatus.Update
			for u := range poller.Watch(ctx, args[0], projectID, ownerID) {
				last = u
				switch {
				case u.QueryErr != nil:
					fmt.Fprintf(w, "%-10s query failed: %v\n", u.State, u.QueryErr)
				case u.Job != nil:
					fmt.Fprintf(w, "%-10s %5.1f%% %s\n", u.State, u.Job.Progress, u.Job.Message)
				default:
					fmt.Fprintln(w, u.State)
				}
			}
			switch last.State {
			case renderstatus.StateCompleted:
				source := "renderer"
				if last.FromStore {
					source = "project record"
				}
				fmt.Fprintf(w, "video: %s (from %s)\n", last.VideoURL, source)
				return nil
			case renderstatus.StateFailed:
				return errors.New(last.Error)
			default:
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("render job %s still running: %w", args[0], err)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Renderer base URL (defaults to LYRICSYNC_RENDER_URL)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (defaults to LYRICSYNC_POLL_INTERVAL)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project the render belongs to; confirms the video against its record")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner of --project")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long; 0 waits indefinitely")
	return cmd
}
