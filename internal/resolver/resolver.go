// Package resolver implements the three-tier field-level merge (spec
// §4.7, component C7) applied to incoming remote rows on pull and on
// realtime ingest.
package resolver

import (
	"sort"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
)

// Winner names which side a field's value came from, recorded in
// conflict_history (spec §3).
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// Strategy names the rule that decided one field (spec §4.7 Tier 3).
type Strategy string

const (
	StrategyLocalPending Strategy = "local_pending"
	StrategyDeleteWins   Strategy = "delete_wins"
	StrategyLastWrite    Strategy = "last_write"
)

// Conflict is one non-trivial per-field resolution, destined for
// conflict_history.
type Conflict struct {
	Field         string
	LocalValue    any
	RemoteValue   any
	ResolvedValue any
	Winner        Winner
	Strategy      Strategy
}

// Resolve merges remote into local given the set of fields with a
// pending outbox op, and returns the merged row plus every non-trivial
// per-field resolution. local may be nil (the row does not yet exist
// locally).
func Resolve(local, remote *entity.Row, pendingOps []outbox.Op) (*entity.Row, []Conflict) {
	pendingFields := pendingFieldSet(pendingOps)

	// Tier 1 — trivial.
	if local == nil {
		return remote.Clone(), nil
	}
	if Trivial(local, remote) {
		return local.Clone(), nil
	}

	merged := local.Clone()
	merged.Version = maxInt64(local.Version, remote.Version) + 1

	var conflicts []Conflict

	// "deleted" is handled first and explicitly, since it is an envelope
	// flag rather than an entity field but still follows Tier 3's
	// delete_wins rule, and resurrection safety depends on it never
	// losing to a stale "false".
	if local.Deleted != remote.Deleted {
		c := resolveDeletedField(local, remote)
		applyDeletedResolution(merged, c)
		conflicts = append(conflicts, c)
	} else {
		merged.Deleted = local.Deleted
	}

	// Tier 2 — field disjointness over opaque entity fields.
	fields := differingFields(local, remote)
	for _, f := range fields {
		pending := pendingFields[f]
		c := resolveField(f, local, remote, pending)
		merged.Fields[f] = c.ResolvedValue
		conflicts = append(conflicts, c)
	}

	// Non-differing fields already carry their common value via Clone();
	// any field present only on remote (new field on this row) gets
	// folded in as part of differingFields above.

	return merged, conflicts
}

func resolveDeletedField(local, remote *entity.Row) Conflict {
	c := Conflict{
		Field:       "deleted",
		LocalValue:  local.Deleted,
		RemoteValue: remote.Deleted,
	}
	if local.Deleted || remote.Deleted {
		c.ResolvedValue = true
		c.Winner = WinnerMerged
		c.Strategy = StrategyDeleteWins
		if local.Deleted && !remote.Deleted {
			c.Winner = WinnerLocal
		} else if remote.Deleted && !local.Deleted {
			c.Winner = WinnerRemote
		}
		return c
	}
	// Neither side is true but they still differ — unreachable given the
	// caller's local.Deleted != remote.Deleted guard, kept defensive.
	c.ResolvedValue = false
	c.Winner = WinnerMerged
	c.Strategy = StrategyDeleteWins
	return c
}

func applyDeletedResolution(merged *entity.Row, c Conflict) {
	merged.Deleted, _ = c.ResolvedValue.(bool)
}

func resolveField(field string, local, remote *entity.Row, hasPending bool) Conflict {
	localVal, _ := local.Fields[field]
	remoteVal, hasRemote := remote.Fields[field]

	c := Conflict{Field: field, LocalValue: localVal, RemoteValue: remoteVal}

	if hasPending {
		c.ResolvedValue = localVal
		c.Winner = WinnerLocal
		c.Strategy = StrategyLocalPending
		return c
	}

	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		c.ResolvedValue = localVal
		c.Winner = WinnerLocal
		c.Strategy = StrategyLastWrite
	case remote.UpdatedAt.After(local.UpdatedAt):
		c.ResolvedValue = remoteVal
		c.Winner = WinnerRemote
		c.Strategy = StrategyLastWrite
	default:
		// Equal timestamps: lexicographically-lower device_id wins,
		// deterministically, so both sides converge on the same winner
		// (spec §8 item 8).
		if local.DeviceID != "" && (remote.DeviceID == "" || local.DeviceID < remote.DeviceID) {
			c.ResolvedValue = localVal
			c.Winner = WinnerLocal
		} else {
			c.ResolvedValue = remoteVal
			c.Winner = WinnerRemote
		}
		c.Strategy = StrategyLastWrite
	}

	// If the field only exists on one side, the branch above already
	// resolved using the zero value for the other — the safe default
	// spec §7 item 7 calls for ("every field has a rule that produces a
	// value"); hasRemote is not otherwise needed here.
	_ = hasRemote

	return c
}

// differingFields returns, in stable sorted order, every field present
// on local or remote whose values differ (including fields present on
// only one side).
func differingFields(local, remote *entity.Row) []string {
	seen := map[string]bool{}
	var out []string
	for f, lv := range local.Fields {
		rv, ok := remote.Fields[f]
		if !ok || !valuesEqual(lv, rv) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	for f, rv := range remote.Fields {
		lv, ok := local.Fields[f]
		if !ok || !valuesEqual(lv, rv) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

func valuesEqual(a, b any) bool {
	return a == b
}

func pendingFieldSet(ops []outbox.Op) map[string]bool {
	set := map[string]bool{}
	for _, op := range ops {
		switch op.Kind {
		case outbox.KindSet:
			if op.Field != "" {
				set[op.Field] = true
			} else if m, ok := op.Value.(outbox.MultiSetValue); ok {
				for k := range m {
					set[k] = true
				}
			} else if m, ok := op.Value.(map[string]any); ok {
				for k := range m {
					set[k] = true
				}
			}
		case outbox.KindIncrement:
			set[op.Field] = true
		}
	}
	return set
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Trivial reports whether remote and local are already identical at the
// envelope level (spec §4.7 Tier 1's second rule: same updated_at, same
// _version and same device_id), used by callers that want to skip calling
// Resolve entirely when nothing changed. Two writes from different devices
// that happen to share updated_at and _version are not trivial; they go
// through the device_id tiebreak.
func Trivial(local, remote *entity.Row) bool {
	if local == nil {
		return false
	}
	return remote.UpdatedAt.Equal(local.UpdatedAt) && remote.Version == local.Version && remote.DeviceID == local.DeviceID
}
