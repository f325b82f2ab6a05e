package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanembed/internal/kernel"
	"github.com/Aman-CERP/amanembed/internal/ui"
)

func newRetryCmd(a *app) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Resume embedding after a fatal error",
		Long: `Clear the error phase and drain the queue again. A fresh process has no
error phase to clear, so retry rescans the project and embeds every entity
still missing a fresh vector.

With --probe, first embed a short test input with the active model and
only resume if it succeeds. Otherwise the error stays in place.

Examples:
  amanembed retry
  amanembed retry --probe`,
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

			r := a.renderer(cmd)
			if err := r.Start(ctx); err != nil {
				return err
			}
			detach := ui.Attach(s.idx.Kernel(), r)
			defer func() {
				detach()
				_ = r.Stop()
			}()

			if probe {
				if err := s.idx.Probe(ctx); err != nil {
					return err
				}
			}
			switch s.idx.Kernel().State().Phase {
			case kernel.PhaseError:
				if err := s.idx.Retry(); err != nil {
					return err
				}
			case kernel.PhaseIdle:
				if _, err := s.idx.IndexAll(ctx); err != nil {
					return err
				}
			}
			if err := waitIdle(ctx, s.idx); err != nil {
				return err
			}
			return kernelError(s.idx)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Check the provider before resuming")
	return cmd
}
