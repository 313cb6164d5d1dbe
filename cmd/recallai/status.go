package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"recallai/internal/backend"
)

func newStatusCmd(opts *options) *cobra.Command {
	var (
		backendURL string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll the backend once and print the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			s := cfg.Settings()
			if backendURL == "" {
				backendURL = s.BackendURL()
			}
			client := backend.New(backend.Config{URL: backendURL, Timeout: s.Backend.RequestTimeout}, logger)

			resp, err := client.Poll(cmd.Context())
			if err != nil {
				return fmt.Errorf("poll %s: %w", client.BaseURL(), err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printStatus(out, client.BaseURL(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&backendURL, "backend-url", "", "backend base URL (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw poll response as JSON")
	return cmd
}

func printStatus(w io.Writer, url string, resp *backend.PollResponse) {
	fmt.Fprintf(w, "backend:    %s\n", url)
	fmt.Fprintf(w, "running:    %t\n", resp.IsRunning)
	fmt.Fprintf(w, "transcript: %d lines\n", len(resp.Transcript))
	if resp.Card != nil {
		fmt.Fprintf(w, "card:       %s\n", resp.Card.Title)
	}
	if resp.CloudAPIError != nil {
		fmt.Fprintf(w, "cloud api:  %d %s\n", resp.CloudAPIError.Status, resp.CloudAPIError.Message)
	}
}
