package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// PrivilegeBanner is the first line of every rendered brief.
const PrivilegeBanner = "PRIVILEGED & CONFIDENTIAL"

// Lines renders the payload as the plain-text brief uploaded to the REST
// backend and written by the offline renderer.
func (p Payload) Lines() []string {
	lines := []string{PrivilegeBanner, p.Title, "", "Executive Summary"}
	for _, item := range p.ExecutiveSummary {
		lines = append(lines, "- "+item)
	}

	lines = append(lines, "", "Strategic Priorities")
	for i, item := range p.StrategicPriorities {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
	}

	lines = append(lines, "", "Risk Matrix")
	for _, r := range p.RiskMatrix {
		lines = append(lines, fmt.Sprintf("Risk: %s; Impact: %s; Mitigation: %s; Owner: %s",
			r.Risk, r.Impact, r.Mitigation, r.Owner))
	}

	lines = append(lines, "", "Citations")
	for _, c := range p.Citations {
		line := fmt.Sprintf("[%s] %s", c.ID, c.Source)
		if c.Note != "" {
			line += " - " + c.Note
		}
		lines = append(lines, line)
	}

	if len(p.Annexes) > 0 {
		lines = append(lines, "", "Annexes")
		for _, a := range p.Annexes {
			lines = append(lines, fmt.Sprintf("- %s: %s", a.Title, a.Summary))
			for _, item := range a.Items {
				lines = append(lines, "  * "+item)
			}
		}
	}
	return lines
}

// Text joins Lines with newlines and a trailing newline.
func (p Payload) Text() string {
	return strings.Join(p.Lines(), "\n") + "\n"
}

// Canonical returns the RFC 8785 canonical JSON encoding of the payload.
func (p Payload) Canonical() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// Digest returns "sha256:<hex>" of the canonical encoding. Two payloads with
// the same content always share a digest regardless of input format.
func (p Payload) Digest() (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
