package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/fedsig/go-fedsig/network"
)

// maxDerivationIndex is the highest child index a wildcard may be expanded
// at. Larger indices collide with the hardened marker bit.
const maxDerivationIndex = hdkeychain.HardenedKeyStart - 1

// pubKeyBytesLenUncompressed is the length of an uncompressed serialized
// public key; btcec only exports the compressed length.
const pubKeyBytesLenUncompressed = 65

// keyExpression is a single key token inside a descriptor: a fixed public
// key, a WIF encoded private key, or an extended key with a derivation path.
// Expressions never hold private material themselves; private halves live in
// the caller's SigningMaterials.
type keyExpression interface {
	// IsRange returns true if the expression ends in a wildcard step.
	IsRange() bool
	// isCompressed reports whether the public keys produced by derive are
	// compressed.
	isCompressed() bool
	// serializedLen is the byte length of the public keys produced by
	// derive, without deriving one.
	serializedLen() int
	// derive returns the serialized public key at the given index. Fixed
	// expressions ignore index.
	derive(index uint32, materials *SigningMaterials) ([]byte, error)
	// String returns the canonical public-only form of the expression.
	String() string
	// privateString returns the private form of the expression, resolving
	// the private half through materials.
	privateString(materials *SigningMaterials) (string, error)
}

// keyOrigin is the optional [fingerprint/path] prefix of a key expression,
// identifying the master key and derivation steps that produced the key that
// follows it.
type keyOrigin struct {
	fingerprint string
	path        []uint32
}

func (o *keyOrigin) String() string {
	return "[" + o.fingerprint + formatPath(o.path) + "]"
}

func originPrefix(o *keyOrigin) string {
	if o == nil {
		return ""
	}
	return o.String()
}

type fixedPubKey struct {
	raw    []byte
	id     KeyID
	origin *keyOrigin
}

func (k *fixedPubKey) IsRange() bool      { return false }
func (k *fixedPubKey) isCompressed() bool { return len(k.raw) == btcec.PubKeyBytesLenCompressed }
func (k *fixedPubKey) serializedLen() int { return len(k.raw) }

func (k *fixedPubKey) derive(_ uint32, _ *SigningMaterials) ([]byte, error) {
	return k.raw, nil
}

func (k *fixedPubKey) String() string {
	return originPrefix(k.origin) + hex.EncodeToString(k.raw)
}

func (k *fixedPubKey) privateString(materials *SigningMaterials) (string, error) {
	wif, ok := materials.lookupKey(k.id)
	if !ok {
		return "", fmt.Errorf("%w: no private key for %x", ErrMissingPrivateKey, k.raw)
	}
	return originPrefix(k.origin) + wif.String(), nil
}

// wifKey is a key expression parsed from a WIF encoded private key. The
// public half is derived once at parse time; the WIF itself is handed to the
// SigningMaterials passed to Parse.
type wifKey struct {
	pub    []byte
	id     KeyID
	origin *keyOrigin
}

func (k *wifKey) IsRange() bool      { return false }
func (k *wifKey) isCompressed() bool { return len(k.pub) == btcec.PubKeyBytesLenCompressed }
func (k *wifKey) serializedLen() int { return len(k.pub) }

func (k *wifKey) derive(_ uint32, _ *SigningMaterials) ([]byte, error) {
	return k.pub, nil
}

func (k *wifKey) String() string {
	return originPrefix(k.origin) + hex.EncodeToString(k.pub)
}

func (k *wifKey) privateString(materials *SigningMaterials) (string, error) {
	wif, ok := materials.lookupKey(k.id)
	if !ok {
		return "", fmt.Errorf("%w: no private key for %x", ErrMissingPrivateKey, k.pub)
	}
	return originPrefix(k.origin) + wif.String(), nil
}

type wildcardKind int

const (
	wildcardNone wildcardKind = iota
	wildcardUnhardened
	wildcardHardened
)

// extendedKey is a key expression rooted at a BIP32 extended key. The root is
// always held in its public (neutered) form; if the expression was parsed
// from a private extended key, the private root is stored in the
// SigningMaterials under the master key identity.
type extendedKey struct {
	root     *hdkeychain.ExtendedKey
	id       KeyID
	origin   *keyOrigin
	path     []uint32
	wildcard wildcardKind
}

func (k *extendedKey) IsRange() bool      { return k.wildcard != wildcardNone }
func (k *extendedKey) isCompressed() bool { return true }
func (k *extendedKey) serializedLen() int { return btcec.PubKeyBytesLenCompressed }

func (k *extendedKey) derive(index uint32, materials *SigningMaterials) ([]byte, error) {
	steps := k.path
	if k.wildcard != wildcardNone {
		if index > maxDerivationIndex {
			return nil, fmt.Errorf("%w: index %d exceeds %d",
				ErrIndexOutOfRange, index, uint32(maxDerivationIndex))
		}
		step := index
		if k.wildcard == wildcardHardened {
			step += hdkeychain.HardenedKeyStart
		}
		steps = make([]uint32, 0, len(k.path)+1)
		steps = append(steps, k.path...)
		steps = append(steps, step)
	}

	key := k.root
	if hasHardenedStep(steps) {
		if priv, ok := materials.lookupExtKey(k.id); ok {
			key = priv
		}
	}

	var err error
	for _, step := range steps {
		key, err = key.Derive(step)
		if err != nil {
			if errors.Is(err, hdkeychain.ErrDeriveHardFromPublic) {
				return nil, fmt.Errorf(
					"%w: step %d' of %s", ErrPrivateDerivationUnavailable,
					step-hdkeychain.HardenedKeyStart, k.root,
				)
			}
			return nil, err
		}
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	return pubKey.SerializeCompressed(), nil
}

func (k *extendedKey) String() string {
	return originPrefix(k.origin) + k.root.String() + k.pathSuffix()
}

func (k *extendedKey) privateString(materials *SigningMaterials) (string, error) {
	priv, ok := materials.lookupExtKey(k.id)
	if !ok {
		return "", fmt.Errorf("%w: no private key for %s", ErrMissingPrivateKey, k.root)
	}
	return originPrefix(k.origin) + priv.String() + k.pathSuffix(), nil
}

func (k *extendedKey) pathSuffix() string {
	suffix := formatPath(k.path)
	switch k.wildcard {
	case wildcardUnhardened:
		suffix += "/*"
	case wildcardHardened:
		suffix += "/*'"
	}
	return suffix
}

func hasHardenedStep(steps []uint32) bool {
	for _, step := range steps {
		if step >= hdkeychain.HardenedKeyStart {
			return true
		}
	}
	return false
}

// formatPath renders derivation steps in their canonical spelling, one
// "/NUM" or "/NUM'" element per step.
func formatPath(steps []uint32) string {
	var b strings.Builder
	for _, step := range steps {
		b.WriteByte('/')
		if step >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(step-hdkeychain.HardenedKeyStart), 10))
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatUint(uint64(step), 10))
		}
	}
	return b.String()
}

// parseKeyExpression parses a single key token. witness marks tokens found
// under a witness script context, where only compressed public keys are
// accepted.
func parseKeyExpression(
	token string, witness bool, net *network.Network, materials *SigningMaterials,
) (keyExpression, error) {
	origin, rest, err := parseKeyOrigin(token)
	if err != nil {
		return nil, err
	}
	if rest == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedKey)
	}

	if raw, err := hex.DecodeString(rest); err == nil {
		return parseFixedPubKey(raw, witness, origin)
	}

	if wif, err := btcutil.DecodeWIF(rest); err == nil {
		return parseWIFKey(rest, wif, witness, net, materials, origin)
	}

	return parseExtendedKey(rest, net, materials, origin)
}

func parseFixedPubKey(raw []byte, witness bool, origin *keyOrigin) (keyExpression, error) {
	if len(raw) != btcec.PubKeyBytesLenCompressed &&
		len(raw) != pubKeyBytesLenUncompressed {
		return nil, fmt.Errorf("%w: invalid public key length %d", ErrMalformedKey, len(raw))
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if witness && len(raw) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf(
			"%w: uncompressed keys are not allowed in witness scripts", ErrMalformedKey,
		)
	}
	return &fixedPubKey{raw: raw, id: NewKeyID(raw), origin: origin}, nil
}

func parseWIFKey(
	token string, wif *btcutil.WIF, witness bool, net *network.Network,
	materials *SigningMaterials, origin *keyOrigin,
) (keyExpression, error) {
	raw := base58.Decode(token)
	if len(raw) == 0 || raw[0] != net.Wif {
		return nil, fmt.Errorf("%w: private key for wrong network", ErrMalformedKey)
	}
	if witness && !wif.CompressPubKey {
		return nil, fmt.Errorf(
			"%w: uncompressed keys are not allowed in witness scripts", ErrMalformedKey,
		)
	}

	pub := wif.SerializePubKey()
	id := NewKeyID(pub)
	materials.addKey(id, wif)

	return &wifKey{pub: pub, id: id, origin: origin}, nil
}

func parseExtendedKey(
	token string, net *network.Network, materials *SigningMaterials, origin *keyOrigin,
) (keyExpression, error) {
	keyStr := token
	pathStr := ""
	if i := strings.IndexByte(token, '/'); i >= 0 {
		keyStr, pathStr = token[:i], token[i+1:]
	}

	key, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognised key", ErrMalformedKey)
	}

	var version [4]byte
	copy(version[:], base58.Decode(keyStr))
	if version != net.HDPublicKey && version != net.HDPrivateKey {
		return nil, fmt.Errorf("%w: extended key for wrong network", ErrMalformedKey)
	}

	expr := &extendedKey{root: key}
	if key.IsPrivate() {
		neutered, err := key.Neuter()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		expr.root = neutered
	}

	rootPub, err := expr.root.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	expr.id = NewKeyID(rootPub.SerializeCompressed())
	expr.origin = origin
	if key.IsPrivate() {
		materials.addExtKey(expr.id, key)
	}

	if pathStr != "" {
		components := strings.Split(pathStr, "/")
		switch components[len(components)-1] {
		case "*":
			expr.wildcard = wildcardUnhardened
			components = components[:len(components)-1]
		case "*'", "*h":
			expr.wildcard = wildcardHardened
			components = components[:len(components)-1]
		}
		for _, component := range components {
			if strings.Contains(component, "*") {
				return nil, fmt.Errorf(
					"%w: wildcard must be the final path element", ErrMalformedKey,
				)
			}
		}
		expr.path, err = parsePath(components)
		if err != nil {
			return nil, err
		}
	}

	return expr, nil
}

// parseKeyOrigin splits an optional [fingerprint/path] prefix off a key
// token, returning the origin (or nil) and the remainder of the token.
func parseKeyOrigin(token string) (*keyOrigin, string, error) {
	split := strings.Split(token, "]")
	switch len(split) {
	case 1:
		return nil, token, nil
	case 2:
		if !strings.HasPrefix(split[0], "[") {
			return nil, "", fmt.Errorf(
				"%w: key origin start '[' character expected but not found", ErrMalformedKey,
			)
		}

		originSplit := strings.Split(split[0][1:], "/")
		fingerprint := originSplit[0]
		if len(fingerprint) != 8 {
			return nil, "", fmt.Errorf("%w: fingerprint should be 8 characters long", ErrMalformedKey)
		}
		if _, err := hex.DecodeString(fingerprint); err != nil {
			return nil, "", fmt.Errorf("%w: fingerprint not valid hex: %v", ErrMalformedKey, err)
		}

		origin := &keyOrigin{fingerprint: strings.ToLower(fingerprint)}
		if len(originSplit) > 1 {
			path, err := parsePath(originSplit[1:])
			if err != nil {
				return nil, "", err
			}
			origin.path = path
		}

		return origin, split[1], nil
	default:
		return nil, "", fmt.Errorf(
			"%w: multiple ']' characters found for a single key", ErrMalformedKey,
		)
	}
}

// parsePath parses derivation steps, accepting both the apostrophe and the
// "h" spelling of the hardened marker. Indices must be below 2^31.
func parsePath(components []string) ([]uint32, error) {
	if len(components) == 0 {
		return nil, nil
	}

	result := make([]uint32, 0, len(components))
	for _, component := range components {
		var hardened uint32
		if strings.HasSuffix(component, "'") {
			hardened = hdkeychain.HardenedKeyStart
			component = strings.TrimSuffix(component, "'")
		} else if strings.HasSuffix(component, "h") {
			hardened = hdkeychain.HardenedKeyStart
			component = strings.TrimSuffix(component, "h")
		}

		value, err := strconv.ParseUint(component, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path component %q", ErrMalformedKey, component)
		}
		if value >= uint64(hdkeychain.HardenedKeyStart) {
			return nil, fmt.Errorf(
				"%w: path component %d out of allowed range [0, %d]",
				ErrMalformedKey, value, uint32(maxDerivationIndex),
			)
		}

		result = append(result, uint32(value)+hardened)
	}
	return result, nil
}
