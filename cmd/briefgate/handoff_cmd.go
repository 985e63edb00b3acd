package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/briefgate/pkg/backends/connector"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
)

func (a *app) handoffCmd() *cobra.Command {
	var payloadPath, format, profile, output string
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Print the connector prompt for a brief without rendering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if profile == "" {
				profile = a.cfg.Connector.Profile
			}
			prof, err := connector.ParseProfile(profile)
			if err != nil {
				return err
			}
			p, err := payload.Load(payloadPath, payload.Format(format))
			if err != nil {
				return err
			}
			prompt, err := connector.BuildPrompt(p, prof)
			if err != nil {
				return err
			}
			if output == "" {
				_, _ = fmt.Fprintln(a.stdout, prompt)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
				return fmt.Errorf("create prompt dir: %w", err)
			}
			if err := os.WriteFile(output, []byte(prompt), 0o600); err != nil {
				return fmt.Errorf("write prompt: %w", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "prompt written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "Payload file (required)")
	cmd.Flags().StringVar(&format, "format", "auto", "Payload format: auto, json, yaml or markdown")
	cmd.Flags().StringVar(&profile, "profile", "", "Connector profile: strict-legal, adobe-standard or fast (default from config)")
	cmd.Flags().StringVar(&output, "output", "", "Write the prompt to this file instead of stdout")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}
