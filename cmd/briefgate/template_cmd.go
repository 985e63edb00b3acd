package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/pipeline"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

func (a *app) verifyTemplateCmd() *cobra.Command {
	var (
		dir, name, manifest, report string
	)
	cmd := &cobra.Command{
		Use:   "verify-template",
		Short: "Verify the canonical template file against its manifest",
		Long: `Checks that the canonical template exists, is readable, has a .pdf
extension, matches the manifest path and matches the pinned SHA-256.
Every check is reported even after the first failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc := a.cfg.Template
			if dir != "" {
				tc.Dir = dir
			}
			if name != "" {
				tc.Name = name
			}
			if manifest != "" {
				tc.ManifestPath = manifest
			}
			desc, err := descriptor(tc)
			if err != nil {
				return err
			}

			rep, verr := template.NewGuard().VerifyCanonical(desc)
			if rep == nil {
				return verr
			}
			if report != "" {
				if err := pipeline.WriteJSONAtomic(report, rep); err != nil {
					return err
				}
			}
			a.code = delivery.ExitPass
			if verr != nil {
				a.code = delivery.ExitFail
			}
			if a.jsonOut {
				return a.printJSON(rep)
			}
			_, _ = fmt.Fprintf(a.stdout, "%s %s\n", rep.Status, rep.TemplatePath)
			for _, c := range rep.Checks {
				mark := "ok"
				if !c.Passed {
					mark = "FAILED"
				}
				_, _ = fmt.Fprintf(a.stdout, "  %-14s %-6s %s\n", c.Name, mark, c.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "template-dir", "", "Directory holding the canonical template (default from config)")
	cmd.Flags().StringVar(&name, "template-name", "", "Template file name (default from config)")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Template manifest JSON pinning path and hash")
	cmd.Flags().StringVar(&report, "report", "", "Write the verification report JSON here")
	return cmd
}
