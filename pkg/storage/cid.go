// Package storage keeps uploaded drawings in a content-addressed blob store
// with per-upload metadata.
package storage

import (
	"crypto/sha256"
	"hash"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// contentHasher computes a content id over a stream.
type contentHasher struct {
	h hash.Hash
}

func newContentHasher() *contentHasher {
	return &contentHasher{h: sha256.New()}
}

func (c *contentHasher) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

func (c *contentHasher) CID() (cid.Cid, error) {
	mh, err := multihash.Encode(c.h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}
