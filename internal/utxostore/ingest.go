package utxostore

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// IngestBlock finalizes block at the store's current next height into the
// durable UTXO set: each transaction removes its inputs (coinbase
// skipped) then inserts its outputs, in block order. The budget is
// checked before every single removal and insertion; if it runs out
// mid-block, the remaining work is captured as a PartialStableBlock and
// ResultPaused is returned.
//
// IngestBlock must not be called while a partial block is pending —
// callers resume that one first via ResumePartial.
func (s *Store) IngestBlock(block *btcblock.Block, budget *Budget) (Result, error) {
	s.mu.Lock()
	if s.partial != nil {
		s.mu.Unlock()
		return ResultPaused, fmt.Errorf("utxostore: a partial block is already pending, call ResumePartial")
	}
	height := s.nextHeight
	s.mu.Unlock()

	return s.runIngest(block, height, 0, 0, 0, budget)
}

// ResumePartial continues a previously paused IngestBlock call from its
// saved cursor. It is a no-op returning ResultDone if no partial block is
// pending.
func (s *Store) ResumePartial(budget *Budget) (Result, error) {
	s.mu.Lock()
	p := s.partial
	s.mu.Unlock()
	if p == nil {
		return ResultDone, nil
	}
	return s.runIngest(p.Block, s.NextHeight(), p.NextTxIdx, p.NextInputIdx, p.NextOutputIdx, budget)
}

func (s *Store) runIngest(block *btcblock.Block, height uint32, startTx, startInput, startOutput int, budget *Budget) (Result, error) {
	txs := block.Transactions()
	txids := block.Txids()

	for txIdx := startTx; txIdx < len(txs); txIdx++ {
		tx := txs[txIdx]
		coinbase := btcblock.IsCoinbase(tx)

		inputStart := 0
		if txIdx == startTx {
			inputStart = startInput
		}
		if !coinbase {
			for i := inputStart; i < len(tx.TxIn); i++ {
				if budget.Exceeded() {
					return s.pause(block, txIdx, i, 0)
				}
				op := wirefmt.OutPoint{
					TxID: tx.TxIn[i].PreviousOutPoint.Hash,
					Vout: tx.TxIn[i].PreviousOutPoint.Index,
				}
				if _, _, err := s.Remove(op); err != nil {
					return ResultPaused, err
				}
				budget.Tick()
			}
		}

		outputStart := 0
		if txIdx == startTx && inputStart >= len(tx.TxIn) {
			outputStart = startOutput
		}
		for i := outputStart; i < len(tx.TxOut); i++ {
			if budget.Exceeded() {
				return s.pause(block, txIdx, len(tx.TxIn), i)
			}
			op := wirefmt.OutPoint{TxID: txids[txIdx], Vout: uint32(i)}
			txout := wirefmt.TxOut{Value: uint64(tx.TxOut[i].Value), ScriptPubKey: tx.TxOut[i].PkScript}
			if err := s.Insert(op, txout, height); err != nil {
				return ResultPaused, err
			}
			budget.Tick()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = nil
	if err := s.setNextHeight(height + 1); err != nil {
		return ResultPaused, err
	}
	return ResultDone, nil
}

func (s *Store) pause(block *btcblock.Block, txIdx, inputIdx, outputIdx int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = &PartialStableBlock{
		Block:         block,
		NextTxIdx:     txIdx,
		NextInputIdx:  inputIdx,
		NextOutputIdx: outputIdx,
	}
	return ResultPaused, nil
}
