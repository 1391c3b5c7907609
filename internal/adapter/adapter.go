// Package adapter defines the uniform contract heterogeneous issuer
// scrapers plug into, plus the registry that routes an instrument to the
// adapter responsible for it. Each issuer publishes holdings on its own
// website in its own shape; adapters hide that behind FetchRaw + Parse.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/etfwatch/etfwatch/internal/fetch"
)

// RawHolding is one constituent row as extracted by an adapter, still in
// issuer-native string form. The normalizer coerces it into the canonical
// record. Shares must already be in raw share counts — any lot-based
// figure is multiplied out inside Parse.
type RawHolding struct {
	SecurityCode string
	SecurityName string
	Shares       string
	MarketValue  string // optional, empty when the issuer omits it
	Weight       string // optional percentage, may carry a trailing %
	Date         string // issuer-reported data date (YYYY-MM-DD), empty if none
}

// Adapter is the per-issuer capability set. Implementations are
// stateless per invocation; all session state lives in the shared fetch
// client.
type Adapter interface {
	// Name is the registry key, e.g. "nomura".
	Name() string

	// Issuer is the issuing company's display name.
	Issuer() string

	// SupportsHistoricalFetch reports whether the issuer accepts an
	// explicit date. Sources that expose only the current composition
	// return false and must not be asked for past dates.
	SupportsHistoricalFetch() bool

	// FundID resolves the system instrument code to the issuer's
	// internal fund identifier. Unmapped codes fail with
	// ConfigError{UnknownInstrument} before any network call.
	FundID(code string) (string, error)

	// FetchRaw retrieves the issuer's holdings payload for the
	// instrument and date via the resilient fetcher.
	FetchRaw(ctx context.Context, code, date string) (*fetch.RawPage, error)

	// Parse extracts issuer-native holding rows from a fetched page.
	Parse(page *fetch.RawPage, code, date string) ([]RawHolding, error)
}

// --- Error taxonomy ---

// ConfigErrorKind classifies configuration failures.
type ConfigErrorKind string

const (
	UnknownInstrument     ConfigErrorKind = "unknown_instrument"
	HistoricalUnsupported ConfigErrorKind = "historical_unsupported"
)

// ConfigError is a startup/wiring failure; it aborts the instrument
// before any network activity.
type ConfigError struct {
	Kind       ConfigErrorKind
	Adapter    string
	Instrument string
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case HistoricalUnsupported:
		return fmt.Sprintf("adapter %q: instrument %s only exposes current composition, cannot fetch past dates", e.Adapter, e.Instrument)
	default:
		return fmt.Sprintf("adapter %q: instrument %s not in fund mapping", e.Adapter, e.Instrument)
	}
}

// ParseErrorKind classifies extraction failures.
type ParseErrorKind string

const (
	UnexpectedShape ParseErrorKind = "unexpected_shape"
	MissingField    ParseErrorKind = "missing_field"
)

// ParseError is raised when an issuer page no longer has the expected
// structure. It is never retried — the page shape, not the network, is
// the problem — and carries enough context to diagnose a site change.
type ParseError struct {
	Kind       ParseErrorKind
	Adapter    string
	Instrument string
	Date       string
	Fragment   string // offending payload excerpt
	Err        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("adapter %q: parse %s for %s on %s", e.Adapter, e.Kind, e.Instrument, e.Date)
	if e.Fragment != "" {
		msg += fmt.Sprintf(": %q", e.Fragment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// snippet trims a payload for error context.
func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// cellText renders a decoded JSON cell as text. Issuer APIs mix strings
// and numbers freely in the same column; decode with UseNumber and let
// the normalizer do the real coercion.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
