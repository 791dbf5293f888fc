package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/dashengine/internal/observability/metrics/dashboards"
	"github.com/inferloop/dashengine/pkg/errors"
)

// NewSeedCmd stores built-in dashboards.
func NewSeedCmd(g *GlobalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed [template]...",
		Short: "Store built-in dashboards",
		Long: `Seed saves the named built-in dashboards, or all of them when no name is
given. Dashboards that are already stored are left alone unless --force is set.`,
		Example: `  dashctl seed
  dashctl seed demo --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = dashboards.Templates()
			}

			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			for _, name := range names {
				d, err := dashboards.FromTemplate(name)
				if err != nil {
					return err
				}
				if !force {
					_, err := ws.store.Load(cmd.Context(), d.UID)
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "Skipped %s (%s): already stored\n", name, d.UID)
						continue
					}
					if !errors.IsNotFound(err) {
						return err
					}
				}
				saved, err := ws.engine.Save(cmd.Context(), d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s as %s version %d\n", name, saved.UID, saved.Version)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite dashboards that are already stored")

	return cmd
}
