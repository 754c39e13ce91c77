package chainparams

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// genesisCoinbaseTxHex is the serialized coinbase transaction shared by
// the mainnet, testnet3, and regtest genesis blocks (the "Chancellor on
// brink of second bailout" transaction).
const genesisCoinbaseTxHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"

// genesisMerkleRootHex is the txid of the genesis coinbase, which is also
// the merkle root of every genesis block that carries it (display order).
const genesisMerkleRootHex = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

// GenesisBlock returns the raw canonical genesis block for the networks
// whose genesis this package embeds. Testnet4 and signet changed their
// genesis blocks; nodes following those networks supply the block
// themselves.
func GenesisBlock(n Network) ([]byte, error) {
	var header wire.BlockHeader
	switch n {
	case Mainnet:
		header = genesisHeader(1231006505, 0x1d00ffff, 2083236893)
	case Testnet3:
		header = genesisHeader(1296688602, 0x1d00ffff, 414098458)
	case Regtest:
		header = genesisHeader(1296688602, 0x207fffff, 2)
	default:
		return nil, fmt.Errorf("chainparams: no embedded genesis block for %s", n)
	}

	txBytes, err := hex.DecodeString(genesisCoinbaseTxHex)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}
	buf.WriteByte(0x01) // varint transaction count
	buf.Write(txBytes)
	return buf.Bytes(), nil
}

func genesisHeader(timestamp int64, bits, nonce uint32) wire.BlockHeader {
	merkle, err := chainhash.NewHashFromStr(genesisMerkleRootHex)
	if err != nil {
		panic(err)
	}
	return wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *merkle,
		Timestamp:  time.Unix(timestamp, 0),
		Bits:       bits,
		Nonce:      nonce,
	}
}
