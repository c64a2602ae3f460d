// Package shard provides partition key and revision digest helpers for document tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// TypePK computes the sharded type-index partition key for a document.
// With numShards=1, all documents of a type go to shard "00".
// With numShards>1, documents are distributed across shards based on the document ID hash.
func TypePK(typeName, docID string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", typeName)
	}
	h := fnv.New32a()
	h.Write([]byte(docID))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", typeName, shard)
}

// ShardPK returns the partition key of a single shard of a type.
func ShardPK(typeName string, shardNum int) string {
	return fmt.Sprintf("%s#%02x", typeName, shardNum)
}

// Revision computes a revision token "<generation>-<digest>".
// The digest covers the previous revision and the document body, so it
// changes even when the body is written twice unchanged.
func Revision(generation int, prevRev string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(prevRev))
	h.Write([]byte{0})
	h.Write(body)
	sum := h.Sum(nil)
	return fmt.Sprintf("%d-%s", generation, hex.EncodeToString(sum[:16])) // 128-bit digest as hex
}
