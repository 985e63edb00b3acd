package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/pipeline"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

type renderFlags struct {
	payloadPath string
	format      string
	output      string
	mode        string
	rulesPath   string
	requestLog  string
	report      string
	verify      bool
	ro          renderOptions
}

func (f *renderFlags) bindBackend(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "Render mode: auto, primary, fallback or connector (default from config)")
	cmd.Flags().StringVar(&f.rulesPath, "rules", "", "Strict rules JSON (required)")
	cmd.Flags().BoolVar(&f.verify, "verify-template", false, "Verify the canonical template file and hash before rendering")
	cmd.Flags().StringVar(&f.ro.credentialsPath, "credentials", "", "PDF services credentials JSON")
	cmd.Flags().StringVar(&f.ro.activeTitle, "active-title", "", "Title of the open design document, checked against the template keyword")
	cmd.Flags().StringVar(&f.ro.metadataPath, "metadata", "", "JSON object written as PDF metadata by --mock")
	cmd.Flags().BoolVar(&f.ro.mock, "mock", false, "Render the fallback locally without network calls")
	_ = cmd.MarkFlagRequired("rules")
}

func (a *app) renderCmd() *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a brief and run strict preflight on the result",
		Example: `  briefgate render --payload brief.json --output out/brief.pdf --rules strict.json
  briefgate render --payload brief.md --format markdown --output out/brief.pdf --rules strict.json --mode fallback --mock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runRender(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.payloadPath, "payload", "", "Payload file (required)")
	cmd.Flags().StringVar(&f.format, "format", "auto", "Payload format: auto, json, yaml or markdown")
	cmd.Flags().StringVar(&f.output, "output", "", "Output PDF path (required)")
	cmd.Flags().StringVar(&f.requestLog, "request-log", "", "Request log JSON (default: <output>.request.json)")
	cmd.Flags().StringVar(&f.report, "report", "", "Write the preflight report JSON here")
	f.bindBackend(cmd)
	_ = cmd.MarkFlagRequired("payload")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runRender(cmd *cobra.Command, f *renderFlags) error {
	ctx := cmd.Context()
	rs, err := rules.Load(f.rulesPath)
	if err != nil {
		return err
	}
	mode, err := a.mode(f.mode)
	if err != nil {
		return err
	}
	svc, err := a.openServices(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.pipeline(f.ro).Run(ctx, pipeline.Request{
		PayloadPath:     f.payloadPath,
		Format:          payload.Format(f.format),
		Mode:            mode,
		OutputPath:      f.output,
		RequestLogPath:  f.requestLog,
		ReportPath:      f.report,
		Rules:           rs,
		Descriptor:      svc.desc,
		VerifyCanonical: f.verify,
	})
	if err != nil {
		return err
	}
	a.exitFor(res.Status)
	if a.jsonOut {
		return a.printJSON(res)
	}
	a.printStatus(res)
	return nil
}

func (a *app) mode(flag string) (router.Mode, error) {
	if flag == "" {
		flag = a.cfg.Router.Mode
	}
	return router.ParseMode(flag)
}

func (a *app) printStatus(res *pipeline.Result) {
	switch s := res.Status.(type) {
	case delivery.Pass:
		_, _ = fmt.Fprintf(a.stdout, "PASS %s\n", s.ArtifactPath)
	case delivery.Pending:
		_, _ = fmt.Fprintln(a.stdout, "PENDING")
		if s.Handoff != nil {
			if s.Handoff.JobPath != "" {
				_, _ = fmt.Fprintf(a.stdout, "  job:      %s\n", s.Handoff.JobPath)
			}
			if s.Handoff.ExpectedPath != "" {
				_, _ = fmt.Fprintf(a.stdout, "  expected: %s\n", s.Handoff.ExpectedPath)
			}
		}
	case delivery.Fail:
		_, _ = fmt.Fprintf(a.stdout, "FAIL %s\n", s.Reason)
		for _, g := range s.FailedGates {
			_, _ = fmt.Fprintf(a.stdout, "  %s: %s\n", g.Name, g.Evidence)
		}
		if s.Err != nil {
			_, _ = fmt.Fprintf(a.stdout, "  %v\n", s.Err)
		}
	}
	if res.RequestLogPath != "" {
		_, _ = fmt.Fprintf(a.stdout, "request log: %s\n", res.RequestLogPath)
	}
}

// batchEntry is one request in a batch file.
type batchEntry struct {
	Payload    string `yaml:"payload"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	Mode       string `yaml:"mode"`
	RequestLog string `yaml:"request_log"`
	Report     string `yaml:"report"`
}

func loadBatch(path string) ([]batchEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied batch file
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var doc struct {
		Requests []batchEntry `yaml:"requests"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	if len(doc.Requests) == 0 {
		return nil, fmt.Errorf("batch file %s lists no requests", path)
	}
	// Relative paths are relative to the batch file.
	base := filepath.Dir(path)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range doc.Requests {
		e := &doc.Requests[i]
		e.Payload, e.Output, e.RequestLog, e.Report = rel(e.Payload), rel(e.Output), rel(e.RequestLog), rel(e.Report)
	}
	return doc.Requests, nil
}

func (a *app) batchCmd() *cobra.Command {
	f := &renderFlags{}
	var file string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Render every request in a batch file concurrently",
		Long: `Render every request listed in a YAML batch file:

  requests:
    - payload: q3-board.json
      output: out/q3-board.pdf
    - payload: litigation.md
      format: markdown
      output: out/litigation.pdf
      mode: fallback

The exit code is the worst outcome: 2 if any request errored, then FAIL,
then PENDING.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd, file, f)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Batch YAML file (required)")
	f.bindBackend(cmd)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, file string, f *renderFlags) error {
	ctx := cmd.Context()
	entries, err := loadBatch(file)
	if err != nil {
		return err
	}
	rs, err := rules.Load(f.rulesPath)
	if err != nil {
		return err
	}
	svc, err := a.openServices(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	reqs := make([]pipeline.Request, len(entries))
	for i, e := range entries {
		m := e.Mode
		if m == "" {
			m = f.mode
		}
		mode, err := a.mode(m)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		format := e.Format
		if format == "" {
			format = string(payload.FormatAuto)
		}
		reqs[i] = pipeline.Request{
			PayloadPath:     e.Payload,
			Format:          payload.Format(format),
			Mode:            mode,
			OutputPath:      e.Output,
			RequestLogPath:  e.RequestLog,
			ReportPath:      e.Report,
			Rules:           rs,
			Descriptor:      svc.desc,
			VerifyCanonical: f.verify,
		}
	}

	results, batchErr := svc.pipeline(f.ro).RunBatch(ctx, reqs)
	a.code = batchExit(results, batchErr)

	if a.jsonOut {
		if err := a.printJSON(results); err != nil {
			return err
		}
	} else {
		for i, res := range results {
			if res == nil {
				continue
			}
			_, _ = fmt.Fprintf(a.stdout, "[%d] ", i)
			a.printStatus(res)
		}
	}
	if batchErr != nil {
		_, _ = fmt.Fprintf(a.stderr, "Error: %v\n", batchErr)
	}
	return nil
}

func batchExit(results []*pipeline.Result, err error) int {
	if err != nil {
		return delivery.ExitUsage
	}
	code := delivery.ExitPass
	for _, res := range results {
		switch c := res.ExitCode(); {
		case c == delivery.ExitFail:
			return delivery.ExitFail
		case c == delivery.ExitPending:
			code = delivery.ExitPending
		}
	}
	return code
}
