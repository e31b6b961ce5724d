package descriptor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/fedsig/go-fedsig/network"
)

var (
	// ErrSyntax is returned for malformed descriptor text: unbalanced
	// parentheses, an unknown script expression, or trailing characters.
	ErrSyntax = errors.New("descriptor syntax error")
	// ErrMalformedKey is returned when a key token inside a descriptor does
	// not match any accepted key encoding, or carries an invalid derivation
	// path.
	ErrMalformedKey = errors.New("malformed key expression")
	// ErrIllegalNesting is returned when a script expression contains a
	// child expression that is not allowed in that position.
	ErrIllegalNesting = errors.New("illegal descriptor nesting")
	// ErrPrivateDerivationUnavailable is returned when expansion hits a
	// hardened derivation step and no private key material is available.
	ErrPrivateDerivationUnavailable = errors.New("hardened derivation requires a private key")
	// ErrIndexOutOfRange is returned when a script is requested at an index
	// beyond the maximum BIP32 child index.
	ErrIndexOutOfRange = errors.New("derivation index out of range")
	// ErrMissingPrivateKey is returned by ToPrivateString when the signing
	// materials do not cover every key in the descriptor.
	ErrMissingPrivateKey = errors.New("missing private key")

	// ErrInvalidChecksumLength is returned when the optional checksum suffix
	// of a descriptor is not 8 characters long.
	ErrInvalidChecksumLength = errors.New("invalid checksum length")
)

// Descriptor is a parsed output script descriptor. Descriptors are immutable
// once parsed and may be expanded any number of times, at different indices,
// from multiple goroutines. The only shared mutable state involved is the
// SigningMaterials collection passed by the caller, whose writes the caller
// must serialize.
type Descriptor interface {
	// Type returns the name of the outermost script expression, e.g. "wpkh"
	// or "sh".
	Type() string
	// IsRange returns true if the descriptor contains a wildcard derivation
	// step and therefore describes a family of scripts rather than a single
	// one.
	IsRange() bool
	// String returns the canonical descriptor string. It never contains
	// private key material, even if the descriptor was parsed from a string
	// that did.
	String() string
	// ToPrivateString returns the descriptor string with every key rendered
	// in its private form. It fails with ErrMissingPrivateKey unless
	// materials holds the private key for every key in the descriptor; a
	// partially private string is never returned.
	ToPrivateString(materials *SigningMaterials) (string, error)
	// Expand derives every key embedded in the descriptor at the given
	// index and returns the ordered list of output scripts the descriptor
	// yields there. Intermediate redeem and witness scripts are registered
	// in materials. Non-range descriptors ignore index and return the same
	// scripts regardless of the value requested.
	Expand(index uint32, materials *SigningMaterials) ([][]byte, error)
}

// KeyID is the 20-byte hash160 identity of a serialized public key.
type KeyID [20]byte

// NewKeyID returns the identity of a serialized public key.
func NewKeyID(serializedPubKey []byte) KeyID {
	var id KeyID
	copy(id[:], hash160(serializedPubKey))
	return id
}

// ScriptID is the 20-byte hash160 identity of a script.
type ScriptID [20]byte

// NewScriptID returns the identity of a script.
func NewScriptID(script []byte) ScriptID {
	var id ScriptID
	copy(id[:], hash160(script))
	return id
}

// SigningMaterials is the handoff collection between a descriptor and an
// external signer. Parse adds any private keys discovered in the descriptor
// string, Expand adds the redeem and witness scripts backing the scripts it
// produces, and the caller may add further keys of its own. The engine never
// removes or overwrites entries supplied by the caller with different
// content, and a failed operation leaves the collection untouched.
type SigningMaterials struct {
	// Keys maps a public key identity to the corresponding private key.
	Keys map[KeyID]*btcutil.WIF
	// ExtKeys maps the master public key identity of an extended key to the
	// private extended key rooted there.
	ExtKeys map[KeyID]*hdkeychain.ExtendedKey
	// Scripts maps a script identity to the redeem or witness script needed
	// to satisfy the script that references it.
	Scripts map[ScriptID][]byte
}

// NewSigningMaterials returns an empty, ready to use collection.
func NewSigningMaterials() *SigningMaterials {
	return &SigningMaterials{
		Keys:    make(map[KeyID]*btcutil.WIF),
		ExtKeys: make(map[KeyID]*hdkeychain.ExtendedKey),
		Scripts: make(map[ScriptID][]byte),
	}
}

func (m *SigningMaterials) addKey(id KeyID, wif *btcutil.WIF) {
	if m == nil {
		return
	}
	if m.Keys == nil {
		m.Keys = make(map[KeyID]*btcutil.WIF)
	}
	m.Keys[id] = wif
}

func (m *SigningMaterials) addExtKey(id KeyID, key *hdkeychain.ExtendedKey) {
	if m == nil {
		return
	}
	if m.ExtKeys == nil {
		m.ExtKeys = make(map[KeyID]*hdkeychain.ExtendedKey)
	}
	m.ExtKeys[id] = key
}

func (m *SigningMaterials) lookupKey(id KeyID) (*btcutil.WIF, bool) {
	if m == nil {
		return nil, false
	}
	wif, ok := m.Keys[id]
	return wif, ok
}

func (m *SigningMaterials) lookupExtKey(id KeyID) (*hdkeychain.ExtendedKey, bool) {
	if m == nil {
		return nil, false
	}
	key, ok := m.ExtKeys[id]
	return key, ok
}

// commitScripts merges the scripts discovered by a fully successful expansion.
func (m *SigningMaterials) commitScripts(reg map[ScriptID][]byte) {
	if m == nil || len(reg) == 0 {
		return
	}
	if m.Scripts == nil {
		m.Scripts = make(map[ScriptID][]byte)
	}
	for id, script := range reg {
		m.Scripts[id] = script
	}
}

// Parse parses a descriptor string into a Descriptor. Private keys discovered
// in the string (WIF encoded keys and private extended keys) are added to
// materials, which may be nil if the caller does not need them. Key encodings
// are validated against net; a nil net selects network.Prod.
func Parse(desc string, materials *SigningMaterials, net *network.Network) (Descriptor, error) {
	if net == nil {
		net = &network.Prod
	}

	desc = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, desc)

	d, err := trimAndValidateChecksum(desc)
	if err != nil {
		return nil, err
	}

	parsed, err := parseScriptExpression(d, ctxTop, net, materials)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

func trimAndValidateChecksum(descriptor string) (string, error) {
	str := strings.Split(descriptor, "#")
	switch len(str) {
	case 1:
		return str[0], nil
	case 2:
		if err := validateChecksum(str[1]); err != nil {
			return "", err
		}

		return str[0], nil
	default:
		return "", fmt.Errorf("%w: descriptor should contain one # symbol", ErrSyntax)
	}
}

//TODO impl validate checksum of descriptor
func validateChecksum(checksum string) error {
	if len(checksum) != 8 {
		return ErrInvalidChecksumLength
	}

	return nil
}
