package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Boendestodet/r3kt.dev-sub000/deploy"
)

var logsTail int

// coordinatorCmd builds a single-argument command that runs op on a freshly
// wired coordinator and prints its result.
func coordinatorCmd(use, short string, op func(ctx context.Context, c *deploy.Coordinator, arg string) deploy.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return printResult(cmd.OutOrStdout(), op(ctx, a.coordinator, args[0]))
		},
	}
}

var (
	deployCmd = coordinatorCmd("deploy <project-id>", "Start the project's preview",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Deploy(ctx, id) })
	stopCmd = coordinatorCmd("stop <container-id>", "Stop a preview container",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Stop(ctx, id) })
	restartCmd = coordinatorCmd("restart <container-id>", "Restart a preview container",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Restart(ctx, id) })
	statusCmd = coordinatorCmd("status <container-id>", "Show container status, health and resource usage",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Status(ctx, id) })
	logsCmd = coordinatorCmd("logs <container-id>", "Print a container's recent output",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Logs(ctx, id, logsTail) })
	cleanupCmd = coordinatorCmd("cleanup <project-id>", "Remove every container, image, file and subdomain of a project",
		func(ctx context.Context, c *deploy.Coordinator, id string) deploy.Result { return c.Cleanup(ctx, id) })
)

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 100, "number of lines from the end of the logs")
	rootCmd.AddCommand(deployCmd, stopCmd, restartCmd, statusCmd, logsCmd, cleanupCmd)
}
