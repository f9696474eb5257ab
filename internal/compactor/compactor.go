// Package compactor implements the single-pass, in-memory coalescing
// reduction of the outbox (spec §4.5, component C5): cross-operation
// cancellation and same-field merging, applied once at the start of
// every push drain.
package compactor

import (
	"sort"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
)

type groupKey struct {
	table entity.Table
	id    string
}

// Compact rewrites ops into an equivalent, minimal outbox. Equivalent
// means: applying ops to any consistent remote and applying Compact(ops)
// to the same remote yield observationally identical end states for
// every entity (spec §8 item 3). Compact is idempotent: Compact(Compact(ops))
// == Compact(ops) (spec §8 item 2).
//
// ops need not be sorted; the result is sorted by (original) seq with
// survivors keeping the oldest timestamp of their collapsed group so
// backoff-by-age does not restart (spec §4.5 step 6). The one exception
// is a terminal delete that absorbs earlier updates: it keeps its own
// timestamp, not the oldest of the group.
func Compact(ops []outbox.Op) []outbox.Op {
	groups := make(map[groupKey][]outbox.Op)
	var order []groupKey
	for _, op := range ops {
		k := groupKey{op.Table, op.EntityID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], op)
	}

	var out []outbox.Op
	for _, k := range order {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Seq < group[j].Seq })
		out = append(out, compactGroup(group)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// compactGroup applies the cross-operation and same-field rules to one
// (table, entityId) group, already in seq order.
func compactGroup(group []outbox.Op) []outbox.Op {
	group = applyCrossOperationRules(group)
	if len(group) == 0 {
		return nil
	}
	group = applySameFieldRules(group)
	return eliminateNoOps(group)
}

// applyCrossOperationRules implements spec §4.5 step 3:
//   - create ... delete -> drop both (and everything between)
//   - update(s) ... delete, no preceding create -> keep only the terminal delete
//   - create followed by set/increment -> single create with the set
//     fields overwritten and increment fields summed into the initial
//     payload (default 0 if absent)
func applyCrossOperationRules(group []outbox.Op) []outbox.Op {
	hasCreate := group[0].Kind == outbox.KindCreate
	last := group[len(group)-1]

	if last.Kind == outbox.KindDelete {
		if hasCreate {
			// create ... delete: the entity never existed as far as
			// remote is concerned. Drop the whole group.
			return nil
		}
		// updates ... delete, no create: only the delete has any
		// observable effect remotely.
		return []outbox.Op{last}
	}

	if !hasCreate {
		return group
	}

	// create followed by any mix of set/increment: fold everything into
	// one create whose value is the initial payload with set fields
	// overwritten and increment fields summed.
	payload := map[string]any{}
	if m, ok := group[0].Value.(map[string]any); ok {
		for k, v := range m {
			payload[k] = v
		}
	}
	for _, op := range group[1:] {
		switch op.Kind {
		case outbox.KindSet:
			if op.Field != "" {
				payload[op.Field] = op.Value
			} else if m, ok := op.Value.(outbox.MultiSetValue); ok {
				for k, v := range m {
					payload[k] = v
				}
			} else if m, ok := op.Value.(map[string]any); ok {
				for k, v := range m {
					payload[k] = v
				}
			}
		case outbox.KindIncrement:
			delta := asFloat(op.Value)
			current := asFloat(payload[op.Field])
			payload[op.Field] = current + delta
		}
	}

	created := group[0]
	created.Value = payload
	return []outbox.Op{created}
}

// applySameFieldRules implements spec §4.5 step 4 on a group that has
// already passed the cross-operation pass (so it no longer mixes create
// with trailing mutations, and does not end in a cancelling delete).
func applySameFieldRules(group []outbox.Op) []outbox.Op {
	if len(group) <= 1 {
		return group
	}
	if group[0].Kind == outbox.KindCreate || group[len(group)-1].Kind == outbox.KindDelete {
		// Already collapsed to a single op by the cross-operation pass.
		return group
	}

	// fieldState tracks, per single field, the running op and whether its
	// numeric accumulation (for increment-chains) is still open.
	type fieldState struct {
		op       outbox.Op
		hasValue bool // true once a set() has fixed the value (increment chain closed)
	}
	perField := map[string]*fieldState{}
	var fieldOrder []string
	multiSet := map[string]any{}
	haveMultiSet := false
	var multiSetOp outbox.Op

	for _, op := range group {
		switch {
		case op.Kind == outbox.KindSet && op.Field != "":
			fs, ok := perField[op.Field]
			if !ok {
				fs = &fieldState{}
				perField[op.Field] = fs
				fieldOrder = append(fieldOrder, op.Field)
			}
			fs.op = op
			fs.hasValue = true
		case op.Kind == outbox.KindIncrement:
			fs, ok := perField[op.Field]
			if !ok {
				fs = &fieldState{op: op}
				perField[op.Field] = fs
				fieldOrder = append(fieldOrder, op.Field)
				continue
			}
			if fs.hasValue && fs.op.Kind == outbox.KindSet {
				// set(v1) followed by increment(Δ): v1+Δ becomes the new set,
				// only when v1 is numeric (spec §4.5 step 4).
				if n, ok := asFloatOK(fs.op.Value); ok {
					fs.op = outbox.Op{Seq: fs.op.Seq, Table: op.Table, EntityID: op.EntityID, Kind: outbox.KindSet, Field: op.Field, Value: n + asFloat(op.Value), Timestamp: fs.op.Timestamp, Retries: fs.op.Retries}
					continue
				}
			}
			if fs.op.Kind == outbox.KindIncrement {
				fs.op = outbox.Op{Seq: fs.op.Seq, Table: op.Table, EntityID: op.EntityID, Kind: outbox.KindIncrement, Field: op.Field, Value: asFloat(fs.op.Value) + asFloat(op.Value), Timestamp: fs.op.Timestamp, Retries: fs.op.Retries}
				continue
			}
			fs.op = op
		case op.Kind == outbox.KindSet && op.Field == "":
			haveMultiSet = true
			if m, ok := op.Value.(outbox.MultiSetValue); ok {
				for k, v := range m {
					multiSet[k] = v
				}
			} else if m, ok := op.Value.(map[string]any); ok {
				for k, v := range m {
					multiSet[k] = v
				}
			}
			if multiSetOp.Timestamp.IsZero() {
				multiSetOp = op
			}
		}
	}

	var out []outbox.Op
	oldestTS := group[0].Timestamp
	for _, field := range fieldOrder {
		fs := perField[field]
		fs.op.Timestamp = oldestTS
		out = append(out, fs.op)
	}
	if haveMultiSet {
		multiSetOp.Value = outbox.MultiSetValue(multiSet)
		multiSetOp.Timestamp = oldestTS
		out = append(out, multiSetOp)
	}
	return out
}

// eliminateNoOps implements spec §4.5 step 5: drop increment(Δ=0),
// set({}), and set({updated_at: ...}) only.
func eliminateNoOps(group []outbox.Op) []outbox.Op {
	var out []outbox.Op
	for _, op := range group {
		switch op.Kind {
		case outbox.KindIncrement:
			if asFloat(op.Value) == 0 {
				continue
			}
		case outbox.KindSet:
			if op.Field != "" {
				if op.Field == "updated_at" {
					continue
				}
			} else {
				m, _ := op.Value.(outbox.MultiSetValue)
				if len(m) == 0 {
					continue
				}
				if len(m) == 1 {
					if _, ok := m["updated_at"]; ok {
						continue
					}
				}
			}
		}
		out = append(out, op)
	}
	return out
}

func asFloat(v any) float64 {
	f, _ := asFloatOK(v)
	return f
}

func asFloatOK(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
