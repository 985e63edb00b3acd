package preflight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Report is the immutable result of one preflight evaluation. A failed
// artifact is re-rendered and re-inspected, never patched.
type Report struct {
	status Status
	gates  []GateResult
}

type reportJSON struct {
	Status Status       `json:"status"`
	Gates  []GateResult `json:"gates"`
}

func newReport(results []GateResult) *Report {
	status := StatusPass
	for _, r := range results {
		if !r.Passed() {
			status = StatusFail
		}
	}
	return &Report{status: status, gates: results}
}

// Status returns PASS iff every gate passed.
func (r *Report) Status() Status { return r.status }

// Passed reports whether the overall status is PASS.
func (r *Report) Passed() bool { return r.status == StatusPass }

// Gates returns a copy of the per-gate results in evaluation order.
func (r *Report) Gates() []GateResult {
	return append([]GateResult(nil), r.gates...)
}

// Gate returns the result for name.
func (r *Report) Gate(name string) (GateResult, bool) {
	for _, g := range r.gates {
		if g.Name == name {
			return g, true
		}
	}
	return GateResult{}, false
}

// FailedGates returns only the failing entries.
func (r *Report) FailedGates() []GateResult {
	var out []GateResult
	for _, g := range r.gates {
		if !g.Passed() {
			out = append(out, g)
		}
	}
	return out
}

// MarshalJSON emits {status, gates:[{name,status,evidence}]}.
func (r *Report) MarshalJSON() ([]byte, error) {
	gates := r.gates
	if gates == nil {
		gates = []GateResult{}
	}
	return encode(reportJSON{Status: r.status, Gates: gates}, "")
}

// UnmarshalJSON restores a report written by MarshalJSON.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw reportJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Report{status: raw.Status, gates: raw.Gates}
	return nil
}

// JSON returns the indented report. Output is byte-identical for identical
// inputs to Evaluate.
func (r *Report) JSON() ([]byte, error) {
	gates := r.gates
	if gates == nil {
		gates = []GateResult{}
	}
	b, err := encode(reportJSON{Status: r.status, Gates: gates}, "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal preflight report: %w", err)
	}
	return append(b, '\n'), nil
}

// encode marshals without HTML escaping so evidence such as
// "PRIVILEGED & CONFIDENTIAL" stays readable.
func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteFile writes the indented report to path.
func (r *Report) WriteFile(path string) error {
	b, err := r.JSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}
