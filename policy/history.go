package policy

import (
	"fmt"
	"sort"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// HISTORY - Versioned policy tables
// =============================================================================

// History is the ordered list of every table version ever in force.
// Versions are never edited; a policy change appends a new version with a
// later EffectiveFrom, so finalized periods keep resolving to the tables
// they were computed with.
type History struct {
	versions []Tables
}

// NewHistory validates each version and orders them by EffectiveFrom.
func NewHistory(versions ...Tables) (*History, error) {
	sorted := make([]Tables, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})

	h := &History{}
	for _, v := range sorted {
		if err := h.Add(v); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Add appends a version. It must validate, carry a unique version label and
// take effect strictly after the latest existing version.
func (h *History) Add(t Tables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Version == "" {
		return generic.NewConfigurationError("version", nil, "version label is required")
	}
	for _, v := range h.versions {
		if v.Version == t.Version {
			return generic.NewConfigurationError("version", nil, "duplicate version %q", t.Version)
		}
	}
	if n := len(h.versions); n > 0 && !t.EffectiveFrom.After(h.versions[n-1].EffectiveFrom) {
		return generic.NewConfigurationError("effective_from", nil,
			"version %q effective %s is not after %q effective %s",
			t.Version, t.EffectiveFrom, h.versions[n-1].Version, h.versions[n-1].EffectiveFrom)
	}
	h.versions = append(h.versions, t)
	return nil
}

// For returns the version in force on the given date.
func (h *History) For(date generic.TimePoint) (Tables, error) {
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].EffectiveFrom.BeforeOrEqual(date) {
			return h.versions[i], nil
		}
	}
	return Tables{}, &generic.ConfigurationError{
		Field:  "effective_from",
		Reason: fmt.Sprintf("no policy version in force on %s", date),
	}
}

// Version returns a version by label.
func (h *History) Version(v generic.PolicyVersion) (Tables, error) {
	for _, t := range h.versions {
		if t.Version == v {
			return t, nil
		}
	}
	return Tables{}, fmt.Errorf("policy version %q: %w", v, generic.ErrNotFound)
}

// Latest returns the most recent version.
func (h *History) Latest() (Tables, bool) {
	if len(h.versions) == 0 {
		return Tables{}, false
	}
	return h.versions[len(h.versions)-1], true
}

// Versions returns a copy of all versions, oldest first.
func (h *History) Versions() []Tables {
	out := make([]Tables, len(h.versions))
	copy(out, h.versions)
	return out
}
