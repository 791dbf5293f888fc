package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/pkg/constants"
)

// NewWatchCmd loads a dashboard with auto-refresh on and prints refresh
// events until interrupted.
func NewWatchCmd(g *GlobalOptions) *cobra.Command {
	var (
		refresh string
		count   int
		output  string
	)

	cmd := &cobra.Command{
		Use:   "watch <uid>",
		Short: "Refresh a dashboard and stream refresh events",
		Example: `  dashctl watch svc-overview --refresh 10s
  dashctl watch svc-overview --count 3 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			ws, err := openWorkspace(ctx, g, true)
			if err != nil {
				return err
			}
			defer ws.Close()

			uid := args[0]
			out := cmd.OutOrStdout()
			var (
				mu        sync.Mutex
				completed int
				printErr  error
			)
			unsubscribe := ws.engine.Bus().Refresh.Subscribe(func(e events.RefreshEvent) {
				if e.UID != uid {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if printErr == nil {
					printErr = printRefreshEvent(out, e, output)
				}
				if e.Kind == events.DashboardRefreshCompleted || e.Kind == events.DashboardRefreshError {
					completed++
					if count > 0 && completed >= count {
						cancel()
					}
				}
			})
			defer unsubscribe()

			if _, err := ws.engine.Load(ctx, uid); err != nil {
				return err
			}
			if refresh != "" {
				if err := ws.engine.SetRefreshInterval(uid, refresh); err != nil {
					return err
				}
			}
			if _, err := ws.engine.RefreshDashboard(ctx, uid); err != nil && ctx.Err() == nil {
				return err
			}

			<-ctx.Done()
			mu.Lock()
			defer mu.Unlock()
			return printErr
		},
	}

	cmd.Flags().StringVarP(&refresh, "refresh", "r", "", "Refresh interval overriding the dashboard's (e.g. 30s)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many dashboard refreshes (0 to run until interrupted)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")

	return cmd
}

func printRefreshEvent(w io.Writer, e events.RefreshEvent, format string) error {
	if format == constants.FormatJSON {
		// Frames are omitted; only the outcome is streamed.
		e.Data = nil
		return writeJSON(w, e)
	}

	ts := e.Time.UTC().Format("15:04:05.000")
	var err error
	switch {
	case e.PanelID == 0 && e.Kind == events.DashboardRefreshCompleted:
		_, err = fmt.Fprintf(w, "%s %s batch=%d panels=%d failed=%d took=%s\n",
			ts, e.Kind, e.Batch, e.Panels, e.Failed, e.Duration)
	case e.Error != "":
		_, err = fmt.Fprintf(w, "%s %s batch=%d panel=%d error=%q\n", ts, e.Kind, e.Batch, e.PanelID, e.Error)
	case e.PanelID != 0:
		_, err = fmt.Fprintf(w, "%s %s batch=%d panel=%d\n", ts, e.Kind, e.Batch, e.PanelID)
	default:
		_, err = fmt.Fprintf(w, "%s %s batch=%d\n", ts, e.Kind, e.Batch)
	}
	return err
}
