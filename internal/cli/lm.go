package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/werger/internal/storage"
	"github.com/happyhackingspace/werger/lm"
	"github.com/happyhackingspace/werger/vocab"
)

func (c *CLI) newLMCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lm",
		Short: "Language model tools",
	}
	cmd.AddCommand(c.newLMBuildCommand())
	cmd.AddCommand(c.newLMScoreCommand())
	return cmd
}

func (c *CLI) newLMBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build <arpa-file> <store-dir>",
		Short: "Convert an ARPA model into an on-disk store",
		Args:  cobra.ExactArgs(2),
		Example: `  # Build a store, then reference it from werger.yaml as "store: lm.db"
  werger lm build lm.arpa.gz model/lm.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dest := args[0], args[1]
			if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
				return fmt.Errorf("store directory %s is not empty", dest)
			}

			start := time.Now()
			v := vocab.New()
			m, err := readARPA(src, v)
			if err != nil {
				return err
			}
			slog.Info("ARPA model read", "path", src, "order", m.Order(), "ngrams", m.Len(), "duration", time.Since(start))

			start = time.Now()
			db, err := lm.OpenDB(lm.StoreConfig{Path: dest, Logger: slog.Default()})
			if err != nil {
				return err
			}
			if err := lm.WriteStore(db, m, v); err != nil {
				_ = db.Close()
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			slog.Info("Store written", "path", dest, "duration", time.Since(start))
			return nil
		},
	}
}

func (c *CLI) newLMScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score <arpa-file-or-store> <sentence>",
		Short: "Print the log10 probability of a sentence, with <s> and </s>",
		Args:  cobra.ExactArgs(2),
		Example: `  werger lm score model/lm.db "the house is small"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := vocab.New()
			m, closeModel, err := openModel(args[0], v)
			if err != nil {
				return err
			}
			defer closeModel()

			words := append(append([]string{vocab.StartSentence}, strings.Fields(args[1])...), vocab.EndSentence)
			ids := make([]int, len(words))
			for i, w := range words {
				ids[i] = v.ID(w)
			}
			total := 0.0
			out := cmd.OutOrStdout()
			for i := 1; i < len(ids); i++ {
				p := m.LogProb(ids[max(0, i-m.Order()+1) : i+1])
				total += p
				fmt.Fprintf(out, "%s\t%.4f\n", words[i], p)
			}
			fmt.Fprintf(out, "total\t%.4f\n", total)
			return nil
		},
	}
}

func readARPA(path string, v *vocab.Vocabulary) (*lm.NgramModel, error) {
	r, err := storage.NewStorage("").Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	m, err := lm.ReadARPA(r, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// openModel opens a store directory or reads an ARPA file.
func openModel(path string, v *vocab.Vocabulary) (lm.Model, func(), error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if !fi.IsDir() {
		m, err := readARPA(path, v)
		return m, func() {}, err
	}
	db, err := lm.OpenDB(lm.StoreConfig{Path: path, ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	s, err := lm.OpenStore(db, v)
	if err != nil {
		_ = db.Close()
		if errors.Is(err, lm.ErrNotAStore) {
			return nil, nil, fmt.Errorf("%s: %w (build it with \"werger lm build\")", path, err)
		}
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
