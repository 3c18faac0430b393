// Command lyricsync is the developer CLI: it drives the docker compose stack
// and can run the pipeline or follow a render job from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var composeFile string

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lyricsync: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lyricsync",
		Short: "LyricSync development CLI",
		Long: `lyricsync manages the local stack (postgres, redis, minio, api, worker) and
exposes the lyrics pipeline and the render status poller as one-off commands.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(
		newStackCmd(),
		newTestCmd(),
		newRunCmd(),
		newProcessCmd(),
		newWatchRenderCmd(),
	)
	return cmd
}

// newStackCmd groups the docker compose wrappers.
func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose stack",
	}

	var noCache bool
	build := &cobra.Command{
		Use:   "build [service...]",
		Short: "Build images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd, args, "build", flagIf(noCache, "--no-cache"))
		},
	}
	build.Flags().BoolVar(&noCache, "no-cache", false, "Disable Docker build cache")

	var detach, skipBuild bool
	up := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd, args, "up", flagIf(!skipBuild, "--build"), flagIf(detach, "-d"))
		},
	}
	up.Flags().BoolVarP(&detach, "detached", "d", true, "Run in the background")
	up.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")

	var volumes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd, nil, "down", flagIf(volumes, "-v"))
		},
	}
	down.Flags().BoolVarP(&volumes, "volumes", "v", false, "Remove volumes (drops the database)")

	var follow bool
	logs := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd, args, "logs", flagIf(follow, "-f"))
		},
	}
	logs.Flags().BoolVar(&follow, "follow", false, "Stream logs continuously")

	cmd.AddCommand(build, up, down, logs)
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := []string{"test"}
			goArgs = appendFlags(goArgs, flagIf(race, "-race"), flagIf(cover, "-cover"))
			if len(args) == 0 {
				args = []string{"./..."}
			}
			return runCommand(cmd.Context(), "go", append(goArgs, args...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable the race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one of the service binaries with go run",
	}
	for _, name := range []string{"api", "worker", "server"} {
		path := "./cmd/" + name
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: "go run " + path,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func compose(cmd *cobra.Command, services []string, sub string, flags ...string) error {
	args := appendFlags([]string{"compose", "-f", composeFile, sub}, flags...)
	return runCommand(cmd.Context(), "docker", append(args, services...)...)
}

func flagIf(on bool, flag string) string {
	if on {
		return flag
	}
	return ""
}

func appendFlags(args []string, flags ...string) []string {
	for _, f := range flags {
		if f != "" {
			args = append(args, f)
		}
	}
	return args
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
