package commands

import (
	"github.com/spf13/cobra"

	cliconfig "github.com/inferloop/dashengine/cmd/cli/config"
	"github.com/inferloop/dashengine/pkg/constants"
)

// NewRootCmd assembles the dashctl command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "dashctl",
		Short: "Manage stored dashboards",
		Long: `dashctl searches, imports, exports, validates and refreshes dashboards
in the store configured for the ` + constants.AppName + ` server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.ConfigFile, "config", "", "config file (default is "+cliconfig.GetDefaultConfigPath()+")")
	root.PersistentFlags().StringVar(&g.Storage, "storage", "", "storage backend overriding the configuration")
	root.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(NewSearchCmd(g))
	root.AddCommand(NewExportCmd(g))
	root.AddCommand(NewImportCmd(g))
	root.AddCommand(NewDuplicateCmd(g))
	root.AddCommand(NewDeleteCmd(g))
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewWatchCmd(g))
	root.AddCommand(NewSeedCmd(g))

	return root
}
