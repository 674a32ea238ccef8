package lsm

import "fmt"

// Flush reads a switched chunk's visible entries and, when buildBloom
// is set, builds a Bloom filter over their live keys so future Get
// calls can skip the chunk cheaply; it then sets ChunkOnDisk and
// ChunkStable. The chunk's tree is not reconciled and nothing is
// written through its block manager.
func Flush(c *Chunk, buildBloom bool) error {
	entries, err := Entries(c.Tree, AllVisible)
	if err != nil {
		return fmt.Errorf("lsm: flush chunk %d: read entries: %w", c.ID, err)
	}

	if buildBloom {
		c.BloomBusy.Store(true)
		defer c.BloomBusy.Store(false)
		bf := NewBloomFilter(uint64(len(entries)), DefaultBitsPerItem, 7)
		for _, e := range entries {
			if e.Tombstone {
				continue
			}
			bf.Add(e.Key)
		}
		c.Bloom = bf
		c.SetFlag(ChunkBloomPresent)
	}

	c.SetFlag(ChunkOnDisk)
	c.SetFlag(ChunkStable)
	return nil
}
