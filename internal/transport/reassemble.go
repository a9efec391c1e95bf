package transport

import (
	"sort"
)

const (
	// MaxPendingGroups is how many newer groups may arrive before an incomplete group is
	// given up.
	MaxPendingGroups = 4

	doneWindow = 128
)

type pendingGroup struct {
	header ShardHeader
	shards map[uint8][]byte
}

// Reassembler is the receiving end of FECEncoder. It collects shard datagrams and
// returns the bytes of each group as soon as enough shards have arrived to rebuild it.
//
// Groups are returned in completion order, which matches sending order unless the
// network reorders them. Shards of a group that was already returned or given up are
// ignored.
type Reassembler struct {
	decoder *FECDecoder
	pending map[uint16]*pendingGroup
	done    map[uint16]bool
	newest  uint16
	started bool

	groups  uint64
	rebuilt uint64
	lost    uint64
}

func NewReassembler() *Reassembler {
	return &Reassembler{
		decoder: NewFECDecoder(),
		pending: make(map[uint16]*pendingGroup),
		done:    make(map[uint16]bool),
	}
}

// seqAfter reports whether sequence a is newer than b, allowing for wrap-around.
func seqAfter(a, b uint16) bool {
	return int16(a-b) > 0
}

// Push adds one shard datagram. It returns the group's bytes when this shard made the
// group rebuildable, nil otherwise. The datagram is copied.
func (r *Reassembler) Push(datagram []byte) ([]byte, error) {
	h, err := ParseShardHeader(datagram)
	if err != nil {
		return nil, err
	}
	if r.started && !seqAfter(h.Sequence, r.newest) && int16(r.newest-h.Sequence) > doneWindow {
		// The sender restarted its sequence.
		r.reset()
	}
	if r.done[h.Sequence] {
		return nil, nil
	}
	if !r.started || seqAfter(h.Sequence, r.newest) {
		r.started = true
		r.newest = h.Sequence
		r.expire()
	} else if int16(r.newest-h.Sequence) >= MaxPendingGroups {
		// Arrived after its group was given up.
		return nil, nil
	}

	g, ok := r.pending[h.Sequence]
	if !ok {
		g = &pendingGroup{header: h, shards: make(map[uint8][]byte)}
		r.pending[h.Sequence] = g
	}
	if _, dup := g.shards[h.Index]; dup {
		return nil, nil
	}
	g.shards[h.Index] = append([]byte(nil), datagram...)
	if len(g.shards) < int(g.header.DataShards) {
		return nil, nil
	}

	datagrams := make([][]byte, 0, len(g.shards))
	indexes := make([]int, 0, len(g.shards))
	for i := range g.shards {
		indexes = append(indexes, int(i))
	}
	sort.Ints(indexes)
	missingData := false
	for n, i := range indexes {
		datagrams = append(datagrams, g.shards[uint8(i)])
		if n < int(g.header.DataShards) && i != n {
			missingData = true
		}
	}

	delete(r.pending, h.Sequence)
	r.done[h.Sequence] = true
	out, _, err := r.decoder.ReconstructGroup(datagrams)
	if err != nil {
		r.lost++
		return nil, err
	}
	r.groups++
	if missingData {
		r.rebuilt++
	}
	return out, nil
}

func (r *Reassembler) reset() {
	r.pending = make(map[uint16]*pendingGroup)
	r.done = make(map[uint16]bool)
	r.started = false
}

func (r *Reassembler) expire() {
	for seq := range r.pending {
		if int16(r.newest-seq) >= MaxPendingGroups {
			delete(r.pending, seq)
			r.done[seq] = true
			r.lost++
		}
	}
	for seq := range r.done {
		if int16(r.newest-seq) > doneWindow || seqAfter(seq, r.newest) {
			delete(r.done, seq)
		}
	}
}

// ReassemblyStats counts groups by outcome.
type ReassemblyStats struct {
	Groups  uint64
	Rebuilt uint64
	Lost    uint64
}

func (r *Reassembler) Stats() ReassemblyStats {
	return ReassemblyStats{Groups: r.groups, Rebuilt: r.rebuilt, Lost: r.lost}
}
