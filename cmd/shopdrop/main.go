package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ShopDrop/internal/app"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(&cliEnv{loadConfig: config.Load})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shopdrop: %v\n", err)
		os.Exit(1)
	}
}

// cliEnv carries what commands need from the outside world so tests can
// swap it.
type cliEnv struct {
	loadConfig func() (*config.Config, error)
	appOptions app.Options
}

func newRootCommand(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopdrop",
		Short: "Publish products to a Shopify store",
		Long: `ShopDrop turns product details and a handful of images into a store listing.
Images may be local files, http(s) URLs or data URIs; each one is resized, re-encoded
as JPEG and uploaded before the product is created.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newPublishCmd(env),
		newActivityCmd(env),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := goTestArgs(race, cover, args)
			return runCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server or worker binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := goRunArgs(path, args)
			return runCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), "go", goArgs...)
		},
	}
}

func goTestArgs(race, cover bool, pkgs []string) []string {
	if len(pkgs) == 0 {
		pkgs = []string{"./..."}
	}
	goArgs := []string{"test"}
	if race {
		goArgs = append(goArgs, "-race")
	}
	if cover {
		goArgs = append(goArgs, "-cover")
	}
	return append(goArgs, pkgs...)
}

func goRunArgs(path string, args []string) []string {
	return append([]string{"run", path}, args...)
}

func runCommand(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
