package cli

import (
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/werger/vector"
)

func (c *CLI) newWeightsCommand() *cobra.Command {
	var flags decoderFlags
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Print the effective feature weights: weights_file overlaid with inline weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.loadDecoder(cmd, &flags)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()
			return vector.WriteWeights(cmd.OutOrStdout(), d.Features().Weights())
		},
	}
	return cmd
}
