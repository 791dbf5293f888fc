package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

// NewSearchCmd lists stored dashboards.
func NewSearchCmd(g *GlobalOptions) *cobra.Command {
	var (
		tags   []string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored dashboards",
		Example: `  dashctl search
  dashctl search service --tag prod --limit 5 --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			q := &models.SearchQuery{Tags: tags, Limit: limit}
			if len(args) == 1 {
				q.Query = args[0]
			}
			found, err := ws.engine.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if output == constants.FormatJSON {
				return writeJSON(cmd.OutOrStdout(), found)
			}
			return writeTable(cmd.OutOrStdout(), found)
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Only dashboards carrying all of these tags")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of results (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	return cmd
}

// NewExportCmd writes a stored dashboard as JSON or YAML.
func NewExportCmd(g *GlobalOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:     "export <uid>",
		Short:   "Export a dashboard document",
		Example: `  dashctl export svc-overview --format yaml -o svc.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			d, err := ws.engine.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := models.MarshalDashboard(d, ws.format(format))
			if err != nil {
				return err
			}

			if output == "" {
				output = ws.config.Preferences.Output
			}
			w, closeFn, err := openOutput(cmd.OutOrStdout(), output)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				closeFn()
				return err
			}
			return closeFn()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Document format (json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (- for stdout)")

	return cmd
}

// NewImportCmd stores a dashboard document, bumping its version.
func NewImportCmd(g *GlobalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a dashboard document",
		Long: `Import reads a JSON or YAML dashboard and saves it. The format is taken
from --format, then from the file extension, then from the configuration.`,
		Example: `  dashctl import svc.yaml
  cat svc.json | dashctl import - --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = formatFromPath(args[0])
			}
			d, err := models.UnmarshalDashboard(data, ws.format(format))
			if err != nil {
				return err
			}
			saved, err := ws.engine.Save(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%q) as version %d\n", saved.UID, saved.Title, saved.Version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Document format (json, yaml)")

	return cmd
}

// NewDuplicateCmd copies a dashboard under a fresh uid.
func NewDuplicateCmd(g *GlobalOptions) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "duplicate <uid>",
		Short: "Copy a dashboard under a new uid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			d, err := ws.engine.Duplicate(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%q)\n", d.UID, d.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title of the copy (default \"<title> - Copy\")")

	return cmd
}

// NewDeleteCmd removes dashboards from the store.
func NewDeleteCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>...",
		Short: "Delete dashboards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			for _, uid := range args {
				if err := ws.engine.Delete(cmd.Context(), uid); err != nil {
					return fmt.Errorf("delete %s: %w", uid, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", uid)
			}
			return nil
		},
	}
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return constants.FormatYAML
	case ".json":
		return constants.FormatJSON
	}
	return ""
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, found []*models.Dashboard) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tTITLE\tVERSION\tPANELS\tTAGS\tUPDATED")
	for _, d := range found {
		updated := "-"
		if !d.Meta.Updated.IsZero() {
			updated = d.Meta.Updated.UTC().Format("2006-01-02 15:04")
		}
		panels := lo.CountBy(d.Panels, func(p *models.Panel) bool { return p.Type != models.PanelRow })
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			d.UID, d.Title, d.Version, panels, strings.Join(d.Tags, ","), updated)
	}
	return tw.Flush()
}
