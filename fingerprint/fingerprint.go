// Package fingerprint decides whether a drawing mutation is worth persisting.
//
// Editors fire change notifications on every pointer move, not only on
// committed edits. Naive "any change saves" floods the network, so the
// detector collapses the noise into one deterministic comparison: an
// order-independent digest of everything that matters for persistence.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/drawfile/snapshot"
)

// Fingerprint is a structural digest of a scene. Two scenes are equivalent
// iff their fingerprints are equal; reordering the element list does not
// change the fingerprint.
type Fingerprint struct {
	Active  int    // elements not tombstoned
	Deleted int    // tombstoned (soft-deleted) elements
	Digest  string // sha256 hex over the sorted structural summary
}

// Equal reports whether two fingerprints are byte-identical.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Active == other.Active && f.Deleted == other.Deleted && f.Digest == other.Digest
}

// Compute derives the fingerprint of a scene. Every sub-list is sorted
// before hashing so non-meaningful reordering never registers as a change.
func Compute(s *snapshot.Scene) Fingerprint {
	if s == nil {
		return Fingerprint{}
	}

	var ids, geoms, texts, styles, extras []string
	active, deleted := 0, 0

	for i := range s.Elements {
		el := &s.Elements[i]
		if el.IsDeleted {
			deleted++
			continue
		}
		active++

		ids = append(ids, el.ID)
		geoms = append(geoms, fmt.Sprintf("%s:%g,%g,%g,%g,%g",
			el.ID, el.X, el.Y, el.Width, el.Height, el.Angle))
		if el.Text != "" {
			texts = append(texts, el.ID+":"+el.Text)
		}
		styles = append(styles, fmt.Sprintf("%s:%s|%s|%s|%g|%s|%g|%g",
			el.ID, el.StrokeColor, el.BackgroundColor, el.FillStyle,
			el.StrokeWidth, el.StrokeStyle, el.Roughness, el.Opacity))
		extras = append(extras, extraTuple(el))
	}

	sort.Strings(ids)
	sort.Strings(geoms)
	sort.Strings(texts)
	sort.Strings(styles)
	sort.Strings(extras)

	var b strings.Builder
	fmt.Fprintf(&b, "n=%d;d=%d\n", active, deleted)
	writeSection(&b, "ids", ids)
	writeSection(&b, "geom", geoms)
	writeSection(&b, "text", texts)
	writeSection(&b, "style", styles)
	writeSection(&b, "extra", extras)

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint{
		Active:  active,
		Deleted: deleted,
		Digest:  hex.EncodeToString(sum[:]),
	}
}

func extraTuple(el *snapshot.Element) string {
	start, end := "", ""
	if el.StartArrowhead != nil {
		start = *el.StartArrowhead
	}
	if el.EndArrowhead != nil {
		end = *el.EndArrowhead
	}
	link := ""
	if el.Link != nil {
		link = *el.Link
	}
	groups := append([]string(nil), el.GroupIDs...)
	sort.Strings(groups)
	return fmt.Sprintf("%s:%s|%s|%s|%s", el.ID, start, end, link, strings.Join(groups, ","))
}

func writeSection(b *strings.Builder, name string, items []string) {
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(strings.Join(items, "\x1f"))
	b.WriteByte('\n')
}

// Detector holds the last-persisted baseline and answers "is this worth a
// save". It is a pure predicate: the caller updates the baseline only after
// a successful save.
type Detector struct {
	backed   bool
	baseline Fingerprint
	primed   bool
}

// NewDetector creates a detector. backed is false in local/ephemeral mode,
// where every change is cause for a write: there is no cost or conflict
// concern without a backing file.
func NewDetector(backed bool) *Detector {
	return &Detector{backed: backed}
}

// ShouldPersist reports whether the candidate scene warrants a save.
//
// Deletions always do: a tombstone is irreversible and easy to lose on
// crash, so it is never deduplicated or delayed.
func (d *Detector) ShouldPersist(candidate *snapshot.Scene) bool {
	if !d.backed {
		return true
	}
	fp := Compute(candidate)
	if !d.primed {
		return true
	}
	if fp.Deleted > 0 {
		return true
	}
	if fp.Active != d.baseline.Active {
		return true
	}
	return fp.Digest != d.baseline.Digest
}

// SetBaseline records the fingerprint of the scene that was just persisted.
func (d *Detector) SetBaseline(fp Fingerprint) {
	d.baseline = fp
	d.primed = true
}

// Baseline returns the current baseline. The second return is false until
// the first SetBaseline.
func (d *Detector) Baseline() (Fingerprint, bool) {
	return d.baseline, d.primed
}
