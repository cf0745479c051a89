package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Relabel maps segmentation labels to new values. Labels absent from the map
// keep their value.
type Relabel map[uint32]uint32

// ParseRelabel parses a comma-separated list of "from=to" pairs, e.g. "1=2,2=1".
func ParseRelabel(s string) (Relabel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	r := make(Relabel)
	for _, pair := range strings.Split(s, ",") {
		from, to, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid relabel pair %q, expected from=to", pair)
		}
		f, err := strconv.ParseUint(strings.TrimSpace(from), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid source label in %q: %w", pair, err)
		}
		t, err := strconv.ParseUint(strings.TrimSpace(to), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid target label in %q: %w", pair, err)
		}
		if _, dup := r[uint32(f)]; dup {
			return nil, fmt.Errorf("label %d relabelled twice", f)
		}
		r[uint32(f)] = uint32(t)
	}
	return r, nil
}

// Apply returns the relabelled value of label.
func (r Relabel) Apply(label uint32) uint32 {
	if to, ok := r[label]; ok {
		return to
	}
	return label
}

// String formats the map in ParseRelabel syntax, sorted by source label.
func (r Relabel) String() string {
	keys := make([]uint32, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d=%d", k, r[k])
	}
	return strings.Join(parts, ",")
}
