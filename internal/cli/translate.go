package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/werger"
	"github.com/happyhackingspace/werger/internal/config"
	"github.com/happyhackingspace/werger/internal/storage"
)

// Output formats of the translate command.
const (
	formatText  = "text"
	formatNBest = "nbest"
	formatJSON  = "json"
)

// decoderFlags override config values from the command line.
type decoderFlags struct {
	threads  int
	topN     int
	features bool
	tree     bool
}

func (f *decoderFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.threads, "threads", "t", 1, "Number of sentences decoded concurrently (default: from config)")
	cmd.Flags().IntVarP(&f.topN, "top-n", "n", 1, "Number of translations per sentence (default: from config)")
	cmd.Flags().BoolVar(&f.features, "features", false, "Report feature values")
	cmd.Flags().BoolVar(&f.tree, "tree", false, "Report derivation trees")
}

func (f *decoderFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("threads") {
		cfg.Threads = f.threads
	}
	if cmd.Flags().Changed("top-n") {
		cfg.TopN = f.topN
	}
	if f.features {
		cfg.IncludeFeatures = true
	}
	if f.tree {
		cfg.IncludeTree = true
	}
}

// loadConfig reads --config, or werger.yaml found from the working directory.
func (c *CLI) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		found, err := storage.Find(werger.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("%w (use --config)", err)
		}
		path = found
	}
	slog.Debug("Loading config", "path", path)
	return config.Load(path)
}

func (c *CLI) loadDecoder(cmd *cobra.Command, flags *decoderFlags) (*werger.Decoder, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	flags.apply(cmd, cfg)

	start := time.Now()
	d, err := werger.NewDecoder(cfg, werger.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	slog.Debug("Decoder loaded", "duration", time.Since(start))
	return d, nil
}

func (c *CLI) newTranslateCommand() *cobra.Command {
	var flags decoderFlags
	var format string

	cmd := &cobra.Command{
		Use:   "translate [file]",
		Short: "Translate sentences or PLF lattices, one per line, from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Translate a file with the werger.yaml found in the current directory
  werger translate input.txt

  # Pipe sentences from stdin
  echo "das haus ist klein" | werger translate -c model/werger.yaml

  # Translate a word lattice in PLF
  echo "((('das',0,1),),(('haus',-0.2,1),('hause',-1.6,1),),)" | werger translate

  # 10-best list with feature values
  werger translate input.txt -n 10 --format nbest --features

  # JSON lines with derivation trees, 8 sentences at a time
  werger translate input.txt --format json --tree -t 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case formatText, formatNBest, formatJSON:
			default:
				return fmt.Errorf("unknown format %q (want text, nbest or json)", format)
			}

			var r io.Reader
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				slog.Debug("Reading from stdin")
				r = cmd.InOrStdin()
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("read file: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			inputs, err := readLines(r)
			if err != nil {
				return err
			}

			d, err := c.loadDecoder(cmd, &flags)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			return translate(cmd, d, inputs, format)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, nbest or json")
	return cmd
}

func translate(cmd *cobra.Command, d *werger.Decoder, inputs []string, format string) error {
	w := bufio.NewWriter(cmd.OutOrStdout())
	start := time.Now()
	failed := 0
	err := d.TranslateAll(cmd.Context(), inputs, func(t *werger.Translation) error {
		if t.Failed {
			failed++
		}
		if err := writeTranslation(w, t, format); err != nil {
			return err
		}
		// keep output flowing for interactive pipes
		return w.Flush()
	})
	if err != nil {
		return err
	}
	slog.Debug("Translation completed",
		"sentences", len(inputs),
		"failed", failed,
		"duration", time.Since(start),
	)
	return w.Flush()
}

// writeTranslation prints one translation. The nbest format is
// "id ||| hypothesis ||| features ||| score", one line per hypothesis.
func writeTranslation(w io.Writer, t *werger.Translation, format string) error {
	var err error
	switch format {
	case formatJSON:
		var out []byte
		out, err = json.Marshal(t)
		if err == nil {
			_, err = fmt.Fprintf(w, "%s\n", out)
		}
	case formatNBest:
		if len(t.NBest) == 0 {
			_, err = fmt.Fprintf(w, "%d ||| %s ||| %s ||| %s\n", t.ID, t.Output, t.Features, formatScore(t.Score))
			break
		}
		for _, h := range t.NBest {
			if _, err = fmt.Fprintf(w, "%d ||| %s ||| %s ||| %s\n", t.ID, h.Output, h.Features, formatScore(h.Score)); err != nil {
				break
			}
		}
	default:
		_, err = fmt.Fprintln(w, t.Output)
	}
	return err
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 3, 64)
}

func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
