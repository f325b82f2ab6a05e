package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanembed/internal/ui"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the index phase, model and freshness",
		Long: `Show the kernel phase, the active model, the pending and stale queue
counts, the last error, and how many vectors are fresh per model.

Examples:
  amanembed status
  amanembed status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			st, err := s.idx.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			r := ui.NewStatusRenderer(out, ui.DetectNoColor() || !ui.IsTTY(out))
			if asJSON {
				return r.RenderJSON(st)
			}
			return r.Render(st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
