package modbus

import "sort"

// Batch is a contiguous aggregate of spans mergeable into one wire read
// (§3, §4.B).
type Batch struct {
	Address  uint16
	Quantity uint16
	Children []Span
}

func (b Batch) Span() Span { return Span{Address: b.Address, Quantity: b.Quantity} }

// Slice returns the sub-slice of a full batch response belonging to child.
func (b Batch) Slice(words []uint16, child Span) []uint16 {
	start := child.Address - b.Address
	return words[start : start+child.Quantity]
}

// BatchSpans groups spans into the minimal ordered set of Batches whose gaps
// never fall below threshold, per the sweep-line algorithm in §4.B.
func BatchSpans(spans []Span, threshold uint16) []Batch {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	var batches []Batch
	cur := Batch{Address: sorted[0].Address, Quantity: sorted[0].Quantity, Children: []Span{sorted[0]}}

	for _, s := range sorted[1:] {
		curEnd := uint32(cur.Address) + uint32(cur.Quantity)
		var gap uint32
		if uint32(s.Address) > curEnd {
			gap = uint32(s.Address) - curEnd
		}
		if gap < uint32(threshold) {
			sEnd := uint32(s.Address) + uint32(s.Quantity)
			if sEnd > curEnd {
				cur.Quantity = uint16(sEnd - uint32(cur.Address))
			}
			cur.Children = append(cur.Children, s)
		} else {
			batches = append(batches, cur)
			cur = Batch{Address: s.Address, Quantity: s.Quantity, Children: []Span{s}}
		}
	}
	batches = append(batches, cur)
	return batches
}
