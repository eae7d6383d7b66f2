package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/werger/internal/server"
)

func (c *CLI) newServeCommand() *cobra.Command {
	var flags decoderFlags
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve translations over HTTP",
		Args:  cobra.NoArgs,
		Example: `  # Serve on the address from the config (default :5674)
  werger serve -c model/werger.yaml

  # Serve on another port with 8 workers
  werger serve --addr :8080 -t 8

  # Translate with curl
  curl -s localhost:5674/v1/translate -d '{"sentences":["das haus"]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.loadDecoder(cmd, &flags)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			cfg := d.Config().Server
			if addr != "" {
				cfg.Addr = addr
			}
			slog.Info("Starting server", "addr", cfg.Addr, "threads", d.Config().Threads)
			return server.New(d, cfg, slog.Default()).ListenAndServe(cmd.Context())
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: from config)")
	return cmd
}
