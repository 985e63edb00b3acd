package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

// Builder implements router.HandoffBuilder.
type Builder struct {
	Profile Profile
	// PromptPath, when set, receives a copy of the prompt.
	PromptPath   string
	ExpectedPath string
}

var _ router.HandoffBuilder = (*Builder)(nil)

func (b *Builder) BuildHandoff(ctx context.Context, p payload.Payload) (*router.Handoff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profile := b.Profile
	if profile == "" {
		profile = ProfileStrictLegal
	}
	prompt, err := BuildPrompt(p, profile)
	if err != nil {
		return nil, err
	}
	if b.PromptPath != "" {
		if err := os.MkdirAll(filepath.Dir(b.PromptPath), 0o750); err != nil {
			return nil, fmt.Errorf("create prompt dir: %w", err)
		}
		if err := os.WriteFile(b.PromptPath, []byte(prompt), 0o600); err != nil {
			return nil, fmt.Errorf("write connector prompt: %w", err)
		}
	}
	return &router.Handoff{
		Backend:      router.Connector,
		Instructions: prompt,
		JobPath:      b.PromptPath,
		ExpectedPath: b.ExpectedPath,
	}, nil
}
