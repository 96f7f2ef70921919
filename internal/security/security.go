// Package security implements the Variable security descriptor and its
// monotonic merge semantics (§3.1 invariant: combining V1 and V2 yields a
// descriptor whose labels/sources/taint are supersets of each input's).
package security

import "sort"

// TaintKind names a class of tainted provenance.
type TaintKind string

const (
	TaintSecret  TaintKind = "secret"
	TaintNetwork TaintKind = "network"
	TaintUser    TaintKind = "user-input"
	TaintFile    TaintKind = "file"
)

// Descriptor carries the security metadata attached to every Variable.
// Fields are treated as sets: Merge always produces the union.
type Descriptor struct {
	Labels  []string
	Sources []string
	Taint   []TaintKind
}

// Empty returns a zero-value descriptor (three empty sets).
func Empty() Descriptor { return Descriptor{} }

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func unionTaint(a, b []TaintKind) []TaintKind {
	seen := make(map[TaintKind]bool, len(a)+len(b))
	out := make([]TaintKind, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Merge combines two descriptors by set union with deduplication, satisfying
// the monotonicity invariant: the result's sets are supersets of both inputs.
func Merge(a, b Descriptor) Descriptor {
	return Descriptor{
		Labels:  unionStrings(a.Labels, b.Labels),
		Sources: unionStrings(a.Sources, b.Sources),
		Taint:   unionTaint(a.Taint, b.Taint),
	}
}

// MergeAll folds Merge across a slice, used for e.g. array-element recursive
// extraction (extractSecurityDescriptor with mergeArrayElements).
func MergeAll(ds ...Descriptor) Descriptor {
	out := Empty()
	for _, d := range ds {
		out = Merge(out, d)
	}
	return out
}

// HasLabel reports whether d carries label.
func (d Descriptor) HasLabel(label string) bool {
	for _, l := range d.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsSupersetOf reports whether d's three sets are each supersets of other's,
// the property the monotonicity invariant requires of every composition.
func (d Descriptor) IsSupersetOf(other Descriptor) bool {
	return isSuperset(d.Labels, other.Labels) &&
		isSuperset(d.Sources, other.Sources) &&
		isSuperset(taintToStrings(d.Taint), taintToStrings(other.Taint))
}

func taintToStrings(t []TaintKind) []string {
	out := make([]string, len(t))
	for i, v := range t {
		out[i] = string(v)
	}
	return out
}

func isSuperset(super, sub []string) bool {
	set := make(map[string]bool, len(super))
	for _, s := range super {
		set[s] = true
	}
	for _, s := range sub {
		if !set[s] {
			return false
		}
	}
	return true
}

// WithLabel returns a copy of d with label added.
func (d Descriptor) WithLabel(label string) Descriptor {
	return Merge(d, Descriptor{Labels: []string{label}})
}

// WithTaint returns a copy of d with taint kind added.
func (d Descriptor) WithTaint(t TaintKind) Descriptor {
	return Merge(d, Descriptor{Taint: []TaintKind{t}})
}

// WithSource returns a copy of d with source added.
func (d Descriptor) WithSource(source string) Descriptor {
	return Merge(d, Descriptor{Sources: []string{source}})
}
