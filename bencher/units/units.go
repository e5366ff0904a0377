// Package units implements C1 (metric types & units) plus the benchmark-
// name/slug validation rules supplemented from original_source/
// lib/bencher_valid/src/benchmark_name.rs and units.rs.
package units

import (
	"fmt"
	"strings"
	"unicode"

	"go.bencher.dev/core/bencher/apierror"
)

// Family groups units that are mutually convertible via a scale factor to
// a canonical base unit (nanoseconds for time, events/s for throughput).
type Family string

const (
	FamilyTime       Family = "time"
	FamilyThroughput Family = "throughput"
	FamilyCount      Family = "count"
)

// Unit is one recognized unit, with its Family and the multiplier that
// converts a value in Unit to the Family's canonical base unit.
type Unit struct {
	Name   string
	Family Family
	Scale  float64 // value * Scale = value in the family's base unit
}

// Canonical units: nanoseconds for time, events/s for throughput.
var (
	Nanoseconds  = Unit{Name: "ns", Family: FamilyTime, Scale: 1}
	Microseconds = Unit{Name: "us", Family: FamilyTime, Scale: 1e3}
	Milliseconds = Unit{Name: "ms", Family: FamilyTime, Scale: 1e6}
	Seconds      = Unit{Name: "s", Family: FamilyTime, Scale: 1e9}

	EventsPerSecond = Unit{Name: "ops/s", Family: FamilyThroughput, Scale: 1}
	BytesPerSecond  = Unit{Name: "bytes/s", Family: FamilyThroughput, Scale: 1}

	Count = Unit{Name: "count", Family: FamilyCount, Scale: 1}

	// Criterion's throughput line reports an element rate with an SI
	// decimal prefix (e.g. "956.67 Kelem/s"), or a byte rate with a
	// power-of-1024 prefix (e.g. "12.3 MiB/s"). Both normalize to the
	// same canonical events/s base unit as EventsPerSecond.
	ElemPerSecond  = Unit{Name: "elem/s", Family: FamilyThroughput, Scale: 1}
	KelemPerSecond = Unit{Name: "kelem/s", Family: FamilyThroughput, Scale: 1e3}
	MelemPerSecond = Unit{Name: "melem/s", Family: FamilyThroughput, Scale: 1e6}
	GelemPerSecond = Unit{Name: "gelem/s", Family: FamilyThroughput, Scale: 1e9}
	TelemPerSecond = Unit{Name: "telem/s", Family: FamilyThroughput, Scale: 1e12}

	BPerSecond   = Unit{Name: "b/s", Family: FamilyThroughput, Scale: 1}
	KiBPerSecond = Unit{Name: "kib/s", Family: FamilyThroughput, Scale: 1024}
	MiBPerSecond = Unit{Name: "mib/s", Family: FamilyThroughput, Scale: 1024 * 1024}
	GiBPerSecond = Unit{Name: "gib/s", Family: FamilyThroughput, Scale: 1024 * 1024 * 1024}
	TiBPerSecond = Unit{Name: "tib/s", Family: FamilyThroughput, Scale: 1024 * 1024 * 1024 * 1024}
)

var byName = map[string]Unit{
	Nanoseconds.Name:     Nanoseconds,
	Microseconds.Name:    Microseconds,
	Milliseconds.Name:    Milliseconds,
	Seconds.Name:         Seconds,
	EventsPerSecond.Name: EventsPerSecond,
	BytesPerSecond.Name:  BytesPerSecond,
	Count.Name:           Count,

	// Criterion prints microseconds with a micro sign; accept both the
	// micro sign and the Greek small mu spelling.
	"µs": Microseconds,
	"μs": Microseconds,

	ElemPerSecond.Name:  ElemPerSecond,
	KelemPerSecond.Name: KelemPerSecond,
	MelemPerSecond.Name: MelemPerSecond,
	GelemPerSecond.Name: GelemPerSecond,
	TelemPerSecond.Name: TelemPerSecond,

	BPerSecond.Name:   BPerSecond,
	KiBPerSecond.Name: KiBPerSecond,
	MiBPerSecond.Name: MiBPerSecond,
	GiBPerSecond.Name: GiBPerSecond,
	TiBPerSecond.Name: TiBPerSecond,
}

// Lookup finds a Unit by its name, as written by an adapter (e.g. the
// "us" in criterion's `time: [1.0 us 1.1 us 1.2 us]`).
func Lookup(name string) (Unit, bool) {
	u, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return u, ok
}

// ToBase converts a value expressed in u to u.Family's canonical base
// unit (nanoseconds for time, events/s for throughput).
func ToBase(value float64, u Unit) float64 {
	return value * u.Scale
}

// Value is the canonical numeric value (C1): a value plus optional
// lower/upper sample bounds, always expressed in the base unit of its
// measure's family.
type Value struct {
	Value      float64
	LowerValue *float64
	UpperValue *float64
}

// Validate enforces §3's invariant: lower <= value <= upper when both
// bounds are present.
func (v Value) Validate() error {
	if v.LowerValue != nil && v.UpperValue != nil && *v.LowerValue > *v.UpperValue {
		return apierror.New(apierror.Unprocessable, "lower_value %v exceeds upper_value %v", *v.LowerValue, *v.UpperValue)
	}
	if v.LowerValue != nil && *v.LowerValue > v.Value {
		return apierror.New(apierror.Unprocessable, "lower_value %v exceeds value %v", *v.LowerValue, v.Value)
	}
	if v.UpperValue != nil && v.Value > *v.UpperValue {
		return apierror.New(apierror.Unprocessable, "value %v exceeds upper_value %v", v.Value, *v.UpperValue)
	}
	return nil
}

const maxNameRunes = 256

// ValidateName enforces the original's benchmark_name.rs rule: non-empty,
// bounded length, no control characters. Applies to project, branch,
// testbed, measure, and benchmark names.
func ValidateName(name string) error {
	if name == "" {
		return apierror.New(apierror.BadRequest, "name must not be empty")
	}
	if utf8RuneCount(name) > maxNameRunes {
		return apierror.New(apierror.BadRequest, "name exceeds %d characters", maxNameRunes)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return apierror.New(apierror.BadRequest, "name must not contain control characters")
		}
	}
	return nil
}

func utf8RuneCount(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// ValidateSlug enforces a narrower rule than ValidateName: lowercase
// ASCII letters, digits, and hyphens only, since slugs appear in URLs.
func ValidateSlug(slug string) error {
	if slug == "" {
		return apierror.New(apierror.BadRequest, "slug must not be empty")
	}
	if utf8RuneCount(slug) > maxNameRunes {
		return apierror.New(apierror.BadRequest, "slug exceeds %d characters", maxNameRunes)
	}
	for _, r := range slug {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		if !isLower && !isDigit && r != '-' {
			return apierror.New(apierror.BadRequest, "slug %q contains invalid character %q", slug, fmt.Sprintf("%c", r))
		}
	}
	return nil
}

// Slugify derives a URL-safe slug from a human name: lowercased, spaces
// and underscores folded to hyphens, disallowed characters dropped.
func Slugify(name string) string {
	var sb strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastHyphen = false
		case r == ' ', r == '_', r == '-':
			if !lastHyphen && sb.Len() > 0 {
				sb.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(sb.String(), "-")
}
