package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

// ModeWatch is recorded in the ledger for runs completed by Watch.
const ModeWatch = "watch"

// WatchRequest names the export a pending run is waiting for.
type WatchRequest struct {
	Path       string
	Rules      *rules.RuleSet
	ReportPath string
	// PayloadDigest links the completed export to the pending run, if known.
	PayloadDigest string
}

// Watch blocks until a non-empty file exists at req.Path and has been quiet
// for the settle period, then inspects it and resolves PASS or FAIL. It
// returns ctx.Err() if the context ends first.
func (p *Pipeline) Watch(ctx context.Context, req WatchRequest) (*Result, error) {
	if req.Path == "" || req.Rules == nil {
		return nil, fmt.Errorf("%w: watch needs a path and a rule set", ErrInvalidRequest)
	}
	target, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch init: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	p.logger.InfoContext(ctx, "waiting for export", "path", target)

	// The file may already be there, or land between Add and the first event.
	settle := time.NewTimer(p.settle)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				settle.Reset(p.settle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, errors.New("watcher closed")
			}
			p.logger.WarnContext(ctx, "watch error", "error", err)
		case <-settle.C:
			if !ready(target) {
				continue
			}
			req.Path = target
			return p.Check(ctx, req)
		}
	}
}

func ready(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Check inspects an existing export and resolves PASS or FAIL without
// waiting.
func (p *Pipeline) Check(ctx context.Context, req WatchRequest) (res *Result, err error) {
	if req.Path == "" || req.Rules == nil {
		return nil, fmt.Errorf("%w: check needs a path and a rule set", ErrInvalidRequest)
	}
	path := req.Path
	res = &Result{RunID: p.newRunID(), PayloadDigest: req.PayloadDigest}
	ctx, done := p.obs.TrackOperation(ctx, "pipeline.watch")
	defer func() { done(err) }()

	report, inspErr := p.preflight(ctx, path, req.Rules, res)
	switch {
	case inspErr != nil:
		res.Status = delivery.Fail{
			Reason: delivery.ReasonPreflightNotRun,
			Err:    fmt.Errorf("preflight not run on final artifact: %w", inspErr),
		}
	case report.Passed():
		res.Status = delivery.Pass{ArtifactPath: path, Report: report}
	default:
		res.Status = delivery.Fail{Reason: delivery.ReasonPreflight, FailedGates: report.FailedGates(), Report: report}
	}

	if _, ok := res.Status.(delivery.Pass); ok {
		if err := p.storeArtifact(ctx, path, res); err != nil {
			return res, err
		}
	}
	if req.ReportPath != "" && report != nil {
		if err := report.WriteFile(req.ReportPath); err != nil {
			return res, fmt.Errorf("write preflight report: %w", err)
		}
	}
	if err := p.record(ctx, ModeWatch, res); err != nil {
		return res, err
	}
	p.obs.RecordDelivery(ctx, res.Status.Name())
	p.logger.InfoContext(ctx, "export checked", "path", path, "status", res.Status.Name())
	return res, nil
}
