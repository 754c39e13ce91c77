package storage

// Region prefixes partition the indexer's single underlying DB into the
// namespaces that live side by side: the small and medium UTXO
// size-class partitions (RegionUtxoLarge is declared but unused; the large
// class is an in-memory map), the address secondary index, the per-address
// balance index, the header store's three maps, UTXO metadata and the
// upgrade-state blob. Each is handed out via
// NewPrefixDB so every component only ever sees its own namespace.
var (
	RegionUtxoSmall          = []byte("u/s/")
	RegionUtxoMedium         = []byte("u/m/")
	RegionUtxoLarge          = []byte("u/l/")
	RegionAddressOutpoints   = []byte("a/o/")
	RegionAddressBalance     = []byte("a/b/")
	RegionHeaderByHash       = []byte("h/h/")
	RegionHeaderHeightToHash = []byte("h/i/")
	RegionHeaderHashToHeight = []byte("h/n/")
	RegionUtxoMeta           = []byte("u/x/")
	RegionUpgradeState       = []byte("x/state")
)
