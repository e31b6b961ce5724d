package network

// Network type represents prefixes for each network
// https://en.bitcoin.it/wiki/List_of_address_prefixes
type Network struct {
	Name string
	// Human-readable part for Bech32 encoded segwit addresses, as defined
	// in BIP 173.
	Bech32 string
	// BIP32 hierarchical deterministic extended key magics
	HDPublicKey  [4]byte
	HDPrivateKey [4]byte
	// Address encoding magic
	PubKeyHash byte
	ScriptHash byte
	// First byte of a WIF private key
	Wif byte
	// BIP44 coin type used in the hierarchical deterministic path for
	// address generation.
	HDCoinType uint32
}

// Prod defines the network parameters for the production federation network.
// Key encodings are compatible with Bitcoin mainnet so that existing signer
// hardware and key tooling can be reused unchanged.
var Prod = Network{
	Name:         "prod",
	Bech32:       "fs",
	HDPublicKey:  [4]byte{0x04, 0x88, 0xb2, 0x1e},
	HDPrivateKey: [4]byte{0x04, 0x88, 0xad, 0xe4},
	PubKeyHash:   0,
	ScriptHash:   5,
	Wif:          0x80,
	HDCoinType:   1776,
}

// Dev defines the network parameters for the development federation network.
var Dev = Network{
	Name:         "dev",
	Bech32:       "tfs",
	HDPublicKey:  [4]byte{0x04, 0x35, 0x87, 0xcf},
	HDPrivateKey: [4]byte{0x04, 0x35, 0x83, 0x94},
	PubKeyHash:   111,
	ScriptHash:   196,
	Wif:          0xef,
	HDCoinType:   1,
}
