package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanembed/internal/config"
	"github.com/Aman-CERP/amanembed/internal/ui"
)

type switchOptions struct {
	model string
	host  string
	save  bool
}

func newSwitchCmd(a *app) *cobra.Command {
	var opts switchOptions

	cmd := &cobra.Command{
		Use:   "switch <provider>",
		Short: "Switch the embedding model and embed what it is missing",
		Long: `Make another provider and model active. Vectors from the previous
model are kept, so switching back only embeds what changed since.

Providers: ollama, openai, static.

Examples:
  amanembed switch ollama --model nomic-embed-text
  amanembed switch openai --model text-embedding-3-small --save
  amanembed switch static`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitch(cmd, a, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model name (default: the provider's default)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Provider endpoint")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Record the choice in the project config")
	return cmd
}

func runSwitch(cmd *cobra.Command, a *app, provider string, opts switchOptions) (err error) {
	next := *a.cfg
	next.Embeddings.Provider = provider
	next.Embeddings.Model = opts.model
	next.Embeddings.Host = opts.host
	if err := next.Validate(); err != nil {
		return err
	}

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

	from := s.idx.ModelKey()
	if err := s.idx.SwitchModel(ctx, next.EmbedConfig()); err != nil {
		return err
	}
	a.logger.Info("switch_requested", slog.String("from", from), slog.String("to", s.idx.ModelKey()))

	if opts.save {
		backup, err := config.SaveProjectModel(a.root, provider, opts.model, opts.host)
		if err != nil {
			return err
		}
		if backup != "" {
			a.logger.Info("config_backed_up", slog.String("path", backup))
		}
	}

	if err := waitIdle(ctx, s.idx); err != nil {
		return err
	}
	st, _ := s.idx.Status(ctx)
	r.Complete(ui.Summary{
		Entities:   st.Entities,
		Embedded:   st.Store.Fresh[st.State.Model.Key()],
		Model:      st.State.Model.Key(),
		Dimensions: st.Dimensions,
	})
	if err := kernelError(s.idx); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Active model: %s\n", s.idx.ModelKey())
	return err
}
