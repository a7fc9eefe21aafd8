// Package ltpx implements the Lock Table Proxy: a fan-out front end
// that hashes each key to a shard, maintains one persistent outbound
// connection per shard to that shard's master, and stitches client
// requests/replies/callbacks across the two sides.
package ltpx

import "hash/crc32"

// shardSeed is the fixed CRC32 seed for the sharding hash; it exists
// only to decorrelate this hash from any other CRC32 use on the wire.
const shardSeed = 0x6d696b65

// ShardTable partitions the 256-value fold-XOR hash space into contiguous
// byte ranges, one per configured upstream.
type ShardTable struct {
	bounds []uint8 // bounds[i] is the first byte owned by shard i
	shards []*Shard
}

// Shard is one upstream master's slice of the key space plus its
// connection bookkeeping.
type Shard struct {
	Index      int
	Start      uint8
	Stop       int // exclusive; 256 for the last shard
	UpstreamAddr string
}

// NewShardTable divides the 256-value hash space evenly across len(addrs)
// shards in order; only contiguous coverage is required, not any
// particular split, so an even division is the simplest one that works.
func NewShardTable(addrs []string) *ShardTable {
	n := len(addrs)
	t := &ShardTable{
		bounds: make([]uint8, n),
		shards: make([]*Shard, n),
	}
	width := 256 / n
	remainder := 256 % n
	start := 0
	for i, addr := range addrs {
		w := width
		if i < remainder {
			w++
		}
		t.bounds[i] = uint8(start)
		t.shards[i] = &Shard{
			Index:        i,
			Start:        uint8(start),
			Stop:         start + w,
			UpstreamAddr: addr,
		}
		start += w
	}
	return t
}

// hashKey computes crc32(key, seed) folded to 8 bits by XOR of bytes, per
// the sharding rule.
func hashKey(key []byte) uint8 {
	table := crc32.MakeTable(crc32.IEEE)
	sum := crc32.Update(shardSeed, table, key)
	return uint8(sum) ^ uint8(sum>>8) ^ uint8(sum>>16) ^ uint8(sum>>24)
}

// ShardFor returns the shard owning key.
func (t *ShardTable) ShardFor(key []byte) *Shard {
	h := hashKey(key)
	for _, s := range t.shards {
		if int(h) >= int(s.Start) && int(h) < s.Stop {
			return s
		}
	}
	// unreachable given NewShardTable's construction, but fall back to
	// the last shard rather than return nil.
	return t.shards[len(t.shards)-1]
}

// All returns every shard, in index order.
func (t *ShardTable) All() []*Shard {
	return t.shards
}

// Len reports the number of shards.
func (t *ShardTable) Len() int { return len(t.shards) }
