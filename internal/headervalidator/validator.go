// Package headervalidator enforces the header acceptance rules against a
// history view spanning the stable header store and the
// unstable chain up to the candidate's parent: ancestry, the median-time
// lower bound, the wall-clock upper bound, the network's proof-of-work
// cap, and proof-of-work against both the header's own target and the
// target the retargeting rules compute for its position.
package headervalidator

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// Validation errors.
var (
	ErrPrevHeaderNotFound          = errors.New("headervalidator: prev_hash does not resolve to a stored header")
	ErrHeaderIsOld                 = errors.New("headervalidator: timestamp not greater than median of previous 11 headers")
	ErrTargetDifficultyAboveMax    = errors.New("headervalidator: decoded target exceeds the network cap")
	ErrInvalidPoWForHeaderTarget   = errors.New("headervalidator: block hash does not satisfy the header's own target")
	ErrInvalidPoWForComputedTarget = errors.New("headervalidator: block hash does not satisfy the computed target")
)

// AlreadyKnownError reports a validation target that is already present in
// the history view.
type AlreadyKnownError struct {
	Hash chainhash.Hash
}

func (e AlreadyKnownError) Error() string {
	return fmt.Sprintf("headervalidator: header %s already known", e.Hash)
}

// TooFarInFutureError reports a header timestamp beyond the two-hour
// wall-clock allowance.
type TooFarInFutureError struct {
	BlockTime  int64
	MaxAllowed int64
}

func (e TooFarInFutureError) Error() string {
	return fmt.Sprintf("headervalidator: block time %d exceeds maximum allowed %d", e.BlockTime, e.MaxAllowed)
}

// maxFutureBlockTime is the wall-clock allowance for header timestamps.
const maxFutureBlockTime = 2 * time.Hour

// medianTimeSpan is how many trailing headers the timestamp lower bound
// takes its median over.
const medianTimeSpan = 11

// HeaderSource is the history view validation runs against: finalized
// headers from the header store plus the unstable ancestors of the
// candidate's parent. GetHeader reports the header and its height.
type HeaderSource interface {
	GetHeader(hash chainhash.Hash) (*btcblock.Header, uint32, bool)
}

// Validator checks candidate headers for one network.
type Validator struct {
	params chainparams.Params
}

// New creates a Validator for the given network.
func New(network chainparams.Network) *Validator {
	return &Validator{params: chainparams.ForNetwork(network)}
}

// ValidateHeader runs the full rule set against header. It is a pure
// function of (src snapshot, header, now) — no internal state, so the
// same inputs always produce the same verdict.
func (v *Validator) ValidateHeader(src HeaderSource, header *btcblock.Header, now time.Time) error {
	if _, _, known := src.GetHeader(header.Hash()); known {
		return AlreadyKnownError{Hash: header.Hash()}
	}

	parent, parentHeight, ok := src.GetHeader(header.PrevBlockHash())
	if !ok {
		return ErrPrevHeaderNotFound
	}

	if header.Timestamp() <= medianTimePast(src, parent, parentHeight) {
		return ErrHeaderIsOld
	}
	maxAllowed := now.Add(maxFutureBlockTime).Unix()
	if header.Timestamp() > maxAllowed {
		return TooFarInFutureError{BlockTime: header.Timestamp(), MaxAllowed: maxAllowed}
	}

	ownTarget := CompactToBig(header.Bits())
	if ownTarget.Sign() <= 0 || ownTarget.Cmp(v.params.MaxTarget) > 0 {
		return ErrTargetDifficultyAboveMax
	}
	hashVal := hashToBig(header.Hash())
	if hashVal.Cmp(ownTarget) > 0 {
		return ErrInvalidPoWForHeaderTarget
	}

	computed := v.nextTarget(src, parent, parentHeight, header.Timestamp())
	if hashVal.Cmp(computed) > 0 {
		return ErrInvalidPoWForComputedTarget
	}
	return nil
}

// hashToBig interprets a block hash as the 256-bit number PoW compares
// against a target. chainhash stores the digest little-endian, so the
// bytes reverse before the big-endian big.Int conversion.
func hashToBig(h chainhash.Hash) *big.Int {
	var buf [chainhash.HashSize]byte
	for i := range h {
		buf[chainhash.HashSize-1-i] = h[i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// medianTimePast returns the median timestamp of the medianTimeSpan
// headers ending at parent. Near genesis the window just shrinks.
func medianTimePast(src HeaderSource, parent *btcblock.Header, parentHeight uint32) int64 {
	times := make([]int64, 0, medianTimeSpan)
	cur, curHeight := parent, parentHeight
	for {
		times = append(times, cur.Timestamp())
		if len(times) == medianTimeSpan || curHeight == 0 {
			break
		}
		prev, prevHeight, ok := src.GetHeader(cur.PrevBlockHash())
		if !ok {
			break
		}
		cur, curHeight = prev, prevHeight
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2]
}

// nextTarget computes the target the header at parentHeight+1 must meet.
func (v *Validator) nextTarget(src HeaderSource, parent *btcblock.Header, parentHeight uint32, headerTime int64) *big.Int {
	height := parentHeight + 1

	if !chainparams.IsRetargetHeight(height) {
		if !v.params.AllowMinDifficultyBlocks {
			return CompactToBig(parent.Bits())
		}
		// Testnet family: a block arriving more than 20 minutes after
		// its parent may be mined at the network minimum.
		if headerTime > parent.Timestamp()+chainparams.TestnetMaxTargetSpacingMultiple*chainparams.TargetSpacing {
			return new(big.Int).Set(v.params.MaxTarget)
		}
		// Otherwise inherit from the most recent ancestor whose target
		// is not the minimum, stopping at a retarget boundary.
		cur, curHeight := parent, parentHeight
		for curHeight%chainparams.RetargetInterval != 0 && cur.Bits() == v.params.MaxTargetBits {
			prev, prevHeight, ok := src.GetHeader(cur.PrevBlockHash())
			if !ok {
				break
			}
			cur, curHeight = prev, prevHeight
		}
		return CompactToBig(cur.Bits())
	}

	if v.params.NoRetargeting {
		return CompactToBig(parent.Bits())
	}
	return v.retarget(src, parent, parentHeight)
}

// retarget computes the difficulty adjustment at a 2016-block boundary:
// new target = base · clamp(actual_timespan, T/4, 4T) / T.
func (v *Validator) retarget(src HeaderSource, parent *btcblock.Header, parentHeight uint32) *big.Int {
	windowStart := ancestorAt(src, parent, parentHeight, parentHeight+1-chainparams.RetargetInterval)
	if windowStart == nil {
		return CompactToBig(parent.Bits())
	}

	// Saturating: testnet4 permits a raw negative interval, which the
	// unsigned formula clamps to zero before the timespan bounds apply.
	actual := parent.Timestamp() - windowStart.Timestamp()
	if actual < 0 {
		actual = 0
	}
	const t = int64(chainparams.TargetTimespan)
	if actual < t/4 {
		actual = t / 4
	}
	if actual > t*4 {
		actual = t * 4
	}

	baseBits := parent.Bits()
	if v.params.IsTestnet4 {
		// Block storm fix: base the adjustment on the target at the
		// start of the window just ended, not its final block.
		baseBits = windowStart.Bits()
	}

	next := new(big.Int).Mul(CompactToBig(baseBits), big.NewInt(actual))
	next.Div(next, big.NewInt(t))
	if next.Cmp(v.params.MaxTarget) > 0 {
		next.Set(v.params.MaxTarget)
	}
	// Round-trip through compact form so the computed target carries the
	// same truncated precision header nBits fields do.
	return CompactToBig(BigToCompact(next))
}

// ancestorAt walks prev-hash links from (start, startHeight) down to the
// header at wantHeight, or nil if the history view cannot reach it.
func ancestorAt(src HeaderSource, start *btcblock.Header, startHeight, wantHeight uint32) *btcblock.Header {
	if wantHeight > startHeight {
		return nil
	}
	cur := start
	for h := startHeight; h > wantHeight; h-- {
		prev, _, ok := src.GetHeader(cur.PrevBlockHash())
		if !ok {
			return nil
		}
		cur = prev
	}
	return cur
}
