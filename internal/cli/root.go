// Package cli implements the glesdbg command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glesdbg/glesdbg/internal/config"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "glesdbg",
		Short:         "glesdbg: remote call-interception debugger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("glesdbg {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAttachCmd())

	return cmd
}

// loadConfig reads the config file when given, built-in defaults
// otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if v := os.Getenv("GLESDBG_CONFIG"); v != "" {
			path = v
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
