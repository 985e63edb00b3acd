// Package credentials resolves client credentials for the PDF rendering
// service from an ordered list of side-effect-free lookup strategies.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by a strategy whose source holds no credentials.
var ErrNotFound = errors.New("credentials: not found")

// Credentials are the client id and secret for the rendering service.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	OrganizationID string
	// Source names the strategy that produced the credentials.
	Source string
}

// Summary is the loggable view of Credentials.
type Summary struct {
	Source         string `json:"source"`
	ClientIDMasked string `json:"client_id_masked"`
	OrganizationID string `json:"organization_id,omitempty"`
}

func (c Credentials) Summary() Summary {
	return Summary{Source: c.Source, ClientIDMasked: Mask(c.ClientID), OrganizationID: c.OrganizationID}
}

// String never prints the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials(source=%s client_id=%s)", c.Source, Mask(c.ClientID))
}

// Mask keeps the first and last four characters of v. Values of eight
// characters or fewer are fully starred.
func Mask(v string) string {
	const keep = 4
	if v == "" {
		return ""
	}
	if len(v) <= keep*2 {
		return strings.Repeat("*", len(v))
	}
	return v[:keep] + "..." + v[len(v)-keep:]
}

// Strategy is one credential source.
type Strategy interface {
	Name() string
	// Lookup returns ErrNotFound when the source is simply absent and any
	// other error when it is present but unusable.
	Lookup(ctx context.Context) (Credentials, error)
}

// Attempt records why one strategy did not yield.
type Attempt struct {
	Strategy string
	Err      error
}

// ResolutionError lists every strategy that was tried.
type ResolutionError struct {
	Attempts []Attempt
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("credentials: no strategy yielded credentials")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n- %s: %v", a.Strategy, a.Err)
	}
	return b.String()
}

func (e *ResolutionError) Is(target error) bool { return target == ErrNotFound }

// Resolve evaluates strategies in order until one yields.
func Resolve(ctx context.Context, strategies ...Strategy) (Credentials, error) {
	rerr := &ResolutionError{}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Credentials{}, err
		}
		c, err := s.Lookup(ctx)
		if err == nil {
			if c.Source == "" {
				c.Source = s.Name()
			}
			return c, nil
		}
		rerr.Attempts = append(rerr.Attempts, Attempt{Strategy: s.Name(), Err: err})
	}
	return Credentials{}, rerr
}
