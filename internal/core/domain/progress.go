package domain

import "sort"

// PartitionProgress is the export progress of one partition of a table.
type PartitionProgress struct {
	AckOffset      int64 `json:"ackOffset"`
	SequenceNumber int64 `json:"sequenceNumber"`
}

// ExportSequenceNumbers maps table name to per-partition export progress.
// It is captured once per node before streaming starts.
type ExportSequenceNumbers map[string]map[int32]PartitionProgress

// ProgressDisagreement records two observations of the same partition that differ.
type ProgressDisagreement struct {
	Table     string
	Partition int32
	Existing  PartitionProgress
	Observed  PartitionProgress
}

// Clone returns a deep copy.
func (e ExportSequenceNumbers) Clone() ExportSequenceNumbers {
	if e == nil {
		return nil
	}
	out := make(ExportSequenceNumbers, len(e))
	for table, parts := range e {
		cp := make(map[int32]PartitionProgress, len(parts))
		for p, v := range parts {
			cp[p] = v
		}
		out[table] = cp
	}
	return out
}

// Merge folds other into e. For every (table, partition) the ack offset and
// the sequence number each become the maximum of both sides, so merging is
// commutative and idempotent and never regresses a value.
//
// Differences between the two sides are returned so callers can report them.
func (e ExportSequenceNumbers) Merge(other ExportSequenceNumbers) []ProgressDisagreement {
	var disagreements []ProgressDisagreement
	for _, table := range sortedTables(other) {
		parts := other[table]
		dst, ok := e[table]
		if !ok {
			dst = make(map[int32]PartitionProgress, len(parts))
			e[table] = dst
		}
		for _, p := range sortedPartitions(parts) {
			observed := parts[p]
			existing, seen := dst[p]
			if !seen {
				dst[p] = observed
				continue
			}
			if existing != observed {
				disagreements = append(disagreements, ProgressDisagreement{
					Table:     table,
					Partition: p,
					Existing:  existing,
					Observed:  observed,
				})
			}
			dst[p] = PartitionProgress{
				AckOffset:      max(existing.AckOffset, observed.AckOffset),
				SequenceNumber: max(existing.SequenceNumber, observed.SequenceNumber),
			}
		}
	}
	return disagreements
}

func sortedTables(e ExportSequenceNumbers) []string {
	tables := make([]string, 0, len(e))
	for t := range e {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func sortedPartitions(parts map[int32]PartitionProgress) []int32 {
	ids := make([]int32, 0, len(parts))
	for p := range parts {
		ids = append(ids, p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
