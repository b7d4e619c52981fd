// Package main provides the samaysync command-line agent.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/config"
)

const (
	outputJSON = "json"
	outputText = "text"
)

// errPassFailed is returned when a pass reports errors, so the process exits non-zero.
var errPassFailed = errors.New("sync pass completed with errors")

// globalFlags holds flags shared by every command.
type globalFlags struct {
	configPath string
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command with every subcommand attached.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "samaysync",
		Short: "Sync ActivityWatch events to the Samay backend",
		Long: `samaysync reads activity events recorded by ActivityWatch and uploads the
ones the backend has not seen yet, tracking progress per bucket.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch flags.output {
			case outputText, outputJSON:
				return nil
			default:
				return fmt.Errorf("unknown output format %q", flags.output)
			}
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"config file path (default: ~/.samay_sync/config.yaml)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", outputText, "output format: text, json")

	root.AddCommand(
		newAuthCmd(flags),
		newCursorCmd(flags),
		newInitCmd(),
		newLogoutCmd(flags),
		newRunCmd(flags),
		newStatusCmd(flags),
		newSyncCmd(flags),
	)

	return root
}

// settings loads configuration from the --config file and environment.
func (f *globalFlags) settings() (config.Settings, error) {
	s, err := config.Load(f.configPath)
	if err != nil {
		return config.Settings{}, fmt.Errorf("loading config: %w", err)
	}
	return *s, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
