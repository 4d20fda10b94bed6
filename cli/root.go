// Package cli contains the r3kt command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/deploy"
)

var (
	// Used for flags
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "r3kt",
	Short: "r3kt - prompt to running web app",
	Long: `r3kt turns a natural-language prompt into a generated web project
and runs it as a live preview.

Examples:
  # Run the generation workers, preview router and metrics listener
  r3kt serve --config r3kt.yaml

  # Generate a project from a prompt and deploy it
  r3kt generate --project coffee --stack "Next.js" --deploy "A blog about coffee"

  # Inspect and manage a preview container
  r3kt status <container-id>
  r3kt logs <container-id> --tail 200`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine.
		_ = godotenv.Load(envFile)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printResult prints a coordinator result and turns a failure into an error
// so the process exits non-zero.
func printResult(w io.Writer, res deploy.Result) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	return nil
}
