package commands

import (
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/inferloop/dashengine/internal/grid"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/models"
)

// ValidateOptions configure the validate command.
type ValidateOptions struct {
	Format string
	Strict bool
}

// NewValidateCmd checks dashboard documents without storing them.
func NewValidateCmd() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check dashboard documents",
		Long: `Validate decodes each document and reports missing fields, duplicate ids,
overlapping panels and references to undefined variables. Panel types the
engine does not render are listed but accepted unless --strict is set.`,
		Example: `  dashctl validate svc.json
  dashctl validate --strict dashboards/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, path := range args {
				problems, err := validateFile(cmd.InOrStdin(), path, opts)
				if err != nil {
					return err
				}
				if len(problems) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
					continue
				}
				invalid++
				for _, p := range problems {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, p)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d documents are invalid", invalid, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Document format (json, yaml; default from extension)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Treat unknown panel types as errors")

	return cmd
}

func validateFile(stdin io.Reader, path string, opts *ValidateOptions) ([]string, error) {
	data, err := readInput(stdin, path)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = formatFromPath(path)
	}
	d, err := models.UnmarshalDashboard(data, format)
	if err != nil {
		return []string{err.Error()}, nil
	}
	return lintDashboard(d, opts.Strict), nil
}

// lintDashboard lists every problem found in d.
func lintDashboard(d *models.Dashboard, strict bool) []string {
	var problems []string

	if ve := d.Validate(); ve.HasErrors() {
		for _, e := range ve.Errors {
			problems = append(problems, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
	}

	for _, o := range grid.FindOverlaps(d.Panels) {
		problems = append(problems, fmt.Sprintf("panels %d and %d overlap", o.A, o.B))
	}

	defined := lo.SliceToMap(d.Templating.List, func(v *models.Variable) (string, struct{}) {
		return v.Name, struct{}{}
	})
	for _, p := range d.Panels {
		if p == nil {
			continue
		}
		if !p.Type.Known() && strict {
			problems = append(problems, fmt.Sprintf("panel %d: unknown type %q", p.ID, p.Type))
		}
		refs := append(templating.ReferencedVariables(p.Targets), templating.ReferencedVariables(p.Title)...)
		for _, name := range lo.Uniq(refs) {
			if _, ok := defined[name]; !ok && !templating.IsBuiltin(name) {
				problems = append(problems, fmt.Sprintf("panel %d: references undefined variable $%s", p.ID, name))
			}
		}
	}
	return problems
}
