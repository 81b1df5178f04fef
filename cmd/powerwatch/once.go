package main

import (
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/use-agent/powerwatch/cache"
)

var oncePretty bool

func init() {
	onceCmd.Flags().BoolVar(&oncePretty, "pretty", true, "indent the JSON output")
	rootCmd.AddCommand(onceCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once [--pretty=false]",
	Short: "Run a single scrape and print the snapshot as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the snapshot, so logs go to stderr.
		initLogger(cfg.Log, os.Stderr)

		sc := newScraper(cfg, &cache.Latest{})
		defer sc.Close()

		snap, err := sc.Scrape(cmd.Context())
		if err != nil {
			return err
		}
		if snap == nil {
			return errors.New("no snapshot captured: scrape failed, see logs")
		}

		var out []byte
		if oncePretty {
			out, err = json.MarshalIndent(snap, "", "  ")
		} else {
			out, err = json.Marshal(snap)
		}
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}
