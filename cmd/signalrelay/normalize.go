package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"signalrelay/internal/config"

	"github.com/spf13/cobra"
)

func normalizeCmd() *cobra.Command {
	var mode, rulesFile string
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Dry-run the normalizer on text read from stdin",
		Long: `Reads one post from stdin and prints what the relay would send. Nothing is
contacted. A post the normalizer rejects prints nothing and exits with status 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults().Normalize
			if loaded, err := config.Load(resolveConfigPath()); err == nil {
				cfg = loaded.Normalize
			}
			if mode != "" {
				cfg.Mode = mode
			}
			if rulesFile != "" {
				cfg.RulesFile = config.ExpandPath(rulesFile)
			}

			norm, err := buildNormalizer(cfg)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			p := norm.Normalize(strings.TrimRight(string(data), "\n"), nil)
			if p.Empty() {
				fmt.Fprintln(os.Stderr, "rejected: nothing to forward")
				os.Exit(2)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "normalizer mode: generic or structured (default: from config)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file for structured mode")
	return cmd
}
