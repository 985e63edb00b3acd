package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/briefgate/pkg/pipeline"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

type checkFlags struct {
	pdf       string
	rulesPath string
	report    string
}

func (f *checkFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.pdf, "pdf", "", "PDF to inspect (required)")
	cmd.Flags().StringVar(&f.rulesPath, "rules", "", "Strict rules JSON (required)")
	cmd.Flags().StringVar(&f.report, "report", "", "Write the preflight report JSON here")
	_ = cmd.MarkFlagRequired("pdf")
	_ = cmd.MarkFlagRequired("rules")
}

func (a *app) preflightCmd() *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Run strict preflight on an existing PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCheck(cmd.Context(), f, func(ctx context.Context, p *pipeline.Pipeline, req pipeline.WatchRequest) (*pipeline.Result, error) {
				return p.Check(ctx, req)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	f := &checkFlags{}
	var (
		timeout time.Duration
		digest  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Wait for a pending export to land, then run strict preflight on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return a.runCheck(ctx, f, func(ctx context.Context, p *pipeline.Pipeline, req pipeline.WatchRequest) (*pipeline.Result, error) {
				req.PayloadDigest = digest
				return p.Watch(ctx, req)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits until interrupted)")
	cmd.Flags().StringVar(&digest, "payload-digest", "", "Payload digest of the pending run, recorded with the result")
	return cmd
}

func (a *app) runCheck(ctx context.Context, f *checkFlags, check func(context.Context, *pipeline.Pipeline, pipeline.WatchRequest) (*pipeline.Result, error)) error {
	rs, err := rules.Load(f.rulesPath)
	if err != nil {
		return err
	}
	svc, err := a.openServices(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	p := svc.pipeline(renderOptions{})
	res, err := check(ctx, p, pipeline.WatchRequest{Path: f.pdf, Rules: rs, ReportPath: f.report})
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
