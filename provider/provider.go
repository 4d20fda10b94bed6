// Package provider adapts AI code-generation backends to a single interface
// and decides which of them a generation request may use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
)

// Request is one generation call.
type Request struct {
	Prompt     string
	Scaffolder scaffold.Scaffolder
	// Model overrides the provider's configured default model when set.
	Model string
}

// Result is a successful generation.
type Result struct {
	Files      map[string]string
	TokensUsed int
	Model      string
}

// Provider is a code-generation backend.
type Provider interface {
	Name() string
	// IsConfigured reports whether the provider has what it needs to be
	// called. It never touches the network.
	IsConfigured() bool
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Kind classifies provider failures.
type Kind string

const (
	KindTransport     Kind = "transport"
	KindAuth          Kind = "auth"
	KindMalformed     Kind = "malformed"
	KindTimeout       Kind = "timeout"
	KindNotConfigured Kind = "not_configured"
)

// Error is returned by every Provider for any failed generation.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// ErrorKind returns the Kind of a provider error, or "" if err is not one.
func ErrorKind(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// Chain is the failover configuration: the order providers are tried in when
// nothing is pinned, and which provider serves each model name.
type Chain struct {
	Priority []string
	Models   map[string]string
}

// ProviderFor maps a model name to its provider. Lookup is case-insensitive.
func (c Chain) ProviderFor(model string) (string, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", false
	}
	if name, ok := c.Models[model]; ok {
		return name, true
	}
	for m, name := range c.Models {
		if strings.EqualFold(m, model) {
			return name, true
		}
	}
	return "", false
}

// Plan is the ordered list of providers to try for one request.
type Plan struct {
	Providers []Provider
	// Pinned is true when the user's preferred provider is the only entry.
	// A pinned provider's failure is final.
	Pinned bool
	// Model is the pinned model name, empty otherwise.
	Model string
}

// Set holds the known providers and the chain that orders them.
type Set struct {
	chain     Chain
	providers map[string]Provider
}

// NewSet builds a Set. Later providers with the same name replace earlier ones.
func NewSet(chain Chain, providers ...Provider) *Set {
	s := &Set{chain: chain, providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Get returns the named provider.
func (s *Set) Get(name string) (Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Plan resolves the failover list for a preferred model. A preferred model
// whose provider is configured pins that provider alone. An unknown model, or
// one whose provider is not configured, yields every configured provider in
// priority order.
func (s *Set) Plan(preferredModel string) Plan {
	if name, ok := s.chain.ProviderFor(preferredModel); ok {
		if p, ok := s.providers[name]; ok && p.IsConfigured() {
			return Plan{Providers: []Provider{p}, Pinned: true, Model: strings.TrimSpace(preferredModel)}
		}
	}

	var plan Plan
	for _, name := range s.chain.Priority {
		if p, ok := s.providers[name]; ok && p.IsConfigured() {
			plan.Providers = append(plan.Providers, p)
		}
	}
	return plan
}
