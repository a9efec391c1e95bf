package transport

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// Shard framing shared with the ground-side decoder. All fields are little-endian.
//
//	Offset | Size | Name
//	     0 |    2 | group sequence (wraps)
//	     2 |    1 | shard index (data shards first, then parity)
//	     3 |    1 | data shard count
//	     4 |    1 | parity shard count
//	     5 |    1 | flags (bit0: last group of the buffer)
//	     6 |    2 | payload length (data: own length, parity: length of last data shard)
//	     8 |    N | payload
const (
	ShardHeaderSize = 8
	// MaxDataShards bounds the number of data shards covered by one parity set.
	MaxDataShards = 8

	flagLastGroup = 1 << 0
	maxShards     = 256
)

// ShardHeader is the decoded header of one FEC shard datagram.
type ShardHeader struct {
	Sequence     uint16
	Index        uint8
	DataShards   uint8
	ParityShards uint8
	LastGroup    bool
	Length       uint16
}

func (h ShardHeader) marshal(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.Sequence)
	buf[2] = h.Index
	buf[3] = h.DataShards
	buf[4] = h.ParityShards
	buf[5] = 0
	if h.LastGroup {
		buf[5] |= flagLastGroup
	}
	binary.LittleEndian.PutUint16(buf[6:8], h.Length)
}

// ParseShardHeader decodes the header at the start of a shard datagram.
func ParseShardHeader(datagram []byte) (ShardHeader, error) {
	if len(datagram) < ShardHeaderSize {
		return ShardHeader{}, relayerr.Malformed("fec shard of %d bytes is shorter than its header", len(datagram))
	}
	h := ShardHeader{
		Sequence:     binary.LittleEndian.Uint16(datagram[0:2]),
		Index:        datagram[2],
		DataShards:   datagram[3],
		ParityShards: datagram[4],
		LastGroup:    datagram[5]&flagLastGroup != 0,
		Length:       binary.LittleEndian.Uint16(datagram[6:8]),
	}
	if h.DataShards == 0 || int(h.DataShards)+int(h.ParityShards) > maxShards || int(h.Index) >= int(h.DataShards)+int(h.ParityShards) {
		return ShardHeader{}, relayerr.Malformed("fec shard header %+v is inconsistent", h)
	}
	return h, nil
}

// ParityCount returns the number of parity shards protecting dataShards data shards.
func ParityCount(dataShards int, ratio float64) int {
	parity := int(math.Ceil(float64(dataShards)*ratio - 1e-9))
	parity = max(parity, 1)
	return min(parity, maxShards-dataShards)
}

type codecKey struct{ data, parity int }

type codecCache struct {
	mu     sync.Mutex
	codecs map[codecKey]reedsolomon.Encoder
}

func (c *codecCache) get(data, parity int) (reedsolomon.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := codecKey{data, parity}
	if enc, ok := c.codecs[key]; ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create reed-solomon codec %d+%d", data, parity)
	}
	if c.codecs == nil {
		c.codecs = make(map[codecKey]reedsolomon.Encoder)
	}
	c.codecs[key] = enc
	return enc, nil
}

// FECEncoder turns a buffer into data and parity shards sized for one datagram each.
//
// The encoder keeps a group sequence counter, so a single encoder must not be used
// from several goroutines at once. UDPSink serializes access to its encoder.
type FECEncoder struct {
	blockSize int
	ratio     float64
	sequence  uint16
	codecs    codecCache
}

// NewFECEncoder creates an encoder emitting shards of at most blockSize bytes
// (header included) with ceil(dataShards*ratio) parity shards per group.
func NewFECEncoder(blockSize int, ratio float64) (*FECEncoder, error) {
	if blockSize <= ShardHeaderSize || blockSize-ShardHeaderSize > math.MaxUint16 {
		return nil, relayerr.Configuration("fec block size %d must be in (%d, %d]", blockSize, ShardHeaderSize, math.MaxUint16+ShardHeaderSize)
	}
	if ratio <= 0 || ratio > 1 || math.IsNaN(ratio) {
		return nil, relayerr.Configuration("fec ratio %v must be in (0, 1]", ratio)
	}
	return &FECEncoder{blockSize: blockSize, ratio: ratio}, nil
}

// Capacity is the payload carried by one full data shard.
func (e *FECEncoder) Capacity() int {
	return e.blockSize - ShardHeaderSize
}

// Encode splits buf into groups of data shards and appends the parity shards of each
// group after its data shards. It also returns the number of groups produced.
func (e *FECEncoder) Encode(buf []byte) ([][]byte, int, error) {
	chunks := Fragment(buf, e.Capacity())
	if len(chunks) == 0 {
		return nil, 0, nil
	}

	var out [][]byte
	groups := 0
	for start := 0; start < len(chunks); start += MaxDataShards {
		end := min(start+MaxDataShards, len(chunks))
		shards, err := e.encodeGroup(chunks[start:end], end == len(chunks))
		if err != nil {
			return out, groups, err
		}
		out = append(out, shards...)
		groups++
	}
	return out, groups, nil
}

func (e *FECEncoder) encodeGroup(chunks [][]byte, last bool) ([][]byte, error) {
	dataShards := len(chunks)
	parityShards := ParityCount(dataShards, e.ratio)
	shardSize := len(chunks[0])
	lastLen := len(chunks[dataShards-1])

	codec, err := e.codecs.get(dataShards, parityShards)
	if err != nil {
		return nil, err
	}

	matrix := make([][]byte, dataShards+parityShards)
	for i, chunk := range chunks {
		padded := make([]byte, shardSize)
		copy(padded, chunk)
		matrix[i] = padded
	}
	for i := dataShards; i < len(matrix); i++ {
		matrix[i] = make([]byte, shardSize)
	}
	if err := codec.Encode(matrix); err != nil {
		return nil, errors.Wrap(err, "failed to compute parity")
	}

	seq := e.sequence
	e.sequence++

	out := make([][]byte, 0, len(matrix))
	for i := range matrix {
		payload := matrix[i]
		length := lastLen
		if i < dataShards {
			payload = chunks[i]
			length = len(chunks[i])
		}
		datagram := make([]byte, ShardHeaderSize+len(payload))
		ShardHeader{
			Sequence:     seq,
			Index:        uint8(i),
			DataShards:   uint8(dataShards),
			ParityShards: uint8(parityShards),
			LastGroup:    last,
			Length:       uint16(length),
		}.marshal(datagram)
		copy(datagram[ShardHeaderSize:], payload)
		out = append(out, datagram)
	}
	return out, nil
}

// FECDecoder rebuilds the payload of one shard group. It mirrors the ground-side
// receiver and is used by tests and diagnostics.
type FECDecoder struct {
	codecs codecCache
}

// NewFECDecoder returns a decoder.
func NewFECDecoder() *FECDecoder {
	return &FECDecoder{}
}

// ReconstructGroup takes the received datagrams of one group, in any order, and
// returns the group's original bytes. It fails when more shards are missing than the
// group has parity shards.
func (d *FECDecoder) ReconstructGroup(datagrams [][]byte) ([]byte, ShardHeader, error) {
	if len(datagrams) == 0 {
		return nil, ShardHeader{}, relayerr.Malformed("no shards to reconstruct")
	}

	var ref ShardHeader
	var matrix [][]byte
	lastLen := -1
	shardSize := -1
	for n, datagram := range datagrams {
		h, err := ParseShardHeader(datagram)
		if err != nil {
			return nil, ShardHeader{}, err
		}
		if n == 0 {
			ref = h
			matrix = make([][]byte, int(h.DataShards)+int(h.ParityShards))
		} else if h.Sequence != ref.Sequence || h.DataShards != ref.DataShards || h.ParityShards != ref.ParityShards {
			return nil, ShardHeader{}, relayerr.Malformed("shard %d does not belong to group %d", h.Index, ref.Sequence)
		}

		payload := datagram[ShardHeaderSize:]
		matrix[h.Index] = payload
		switch {
		case int(h.Index) >= int(h.DataShards):
			shardSize = len(payload)
			lastLen = int(h.Length)
		case int(h.Index) == int(h.DataShards)-1:
			lastLen = int(h.Length)
		}
		if h.Index == 0 {
			shardSize = len(payload)
		}
	}

	dataShards := int(ref.DataShards)
	missing := 0
	for i := range matrix {
		if matrix[i] == nil {
			missing++
		}
	}
	if missing > int(ref.ParityShards) {
		return nil, ref, relayerr.Malformed("group %d lost %d shards, only %d recoverable", ref.Sequence, missing, ref.ParityShards)
	}

	if missing > 0 {
		if shardSize < 0 {
			return nil, ref, relayerr.Malformed("group %d has no shard that reveals its shard size", ref.Sequence)
		}
		for i := range matrix {
			if matrix[i] != nil && len(matrix[i]) < shardSize {
				padded := make([]byte, shardSize)
				copy(padded, matrix[i])
				matrix[i] = padded
			}
		}
		codec, err := d.codecs.get(dataShards, int(ref.ParityShards))
		if err != nil {
			return nil, ref, err
		}
		if err := codec.ReconstructData(matrix); err != nil {
			return nil, ref, relayerr.Malformed("group %d: %v", ref.Sequence, err)
		}
	}

	var out []byte
	for i := 0; i < dataShards; i++ {
		length := shardSize
		if i == dataShards-1 {
			length = lastLen
		}
		length = min(length, len(matrix[i]))
		out = append(out, matrix[i][:length]...)
	}
	return out, ref, nil
}

// Reassemble groups datagrams by sequence, reconstructs each group and concatenates
// the groups in sequence order. It is meant for one buffer's worth of shards.
func (d *FECDecoder) Reassemble(datagrams [][]byte) ([]byte, error) {
	groups := make(map[uint16][][]byte)
	for _, datagram := range datagrams {
		h, err := ParseShardHeader(datagram)
		if err != nil {
			return nil, err
		}
		groups[h.Sequence] = append(groups[h.Sequence], datagram)
	}

	seqs := make([]int, 0, len(groups))
	for seq := range groups {
		seqs = append(seqs, int(seq))
	}
	sort.Ints(seqs)

	var out []byte
	for _, seq := range seqs {
		data, _, err := d.ReconstructGroup(groups[uint16(seq)])
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
