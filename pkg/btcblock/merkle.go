package btcblock

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// ComputeMerkleRoot builds the Bitcoin merkle root over a list of txids
// using the classic duplicate-last-node-when-odd algorithm. An empty list
// has no defined root and returns the zero hash.
func ComputeMerkleRoot(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}
	level := make([]chainhash.Hash, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], a[:])
	copy(buf[chainhash.HashSize:], b[:])
	return chainhash.DoubleHashH(buf[:])
}

// HasDuplicateTxids reports whether any two entries in txids are equal —
// the CVE-2012-2459 condition where an attacker pads a block with a
// duplicated transaction so the naive merkle algorithm still validates
// against the claimed root. Blocks exhibiting this are rejected outright
// rather than merely deduplicated, matching upstream Bitcoin Core's fix.
func HasDuplicateTxids(txids []chainhash.Hash) bool {
	seen := make(map[chainhash.Hash]struct{}, len(txids))
	for _, id := range txids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
