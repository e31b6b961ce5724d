package descriptor

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// expander is the internal expansion contract shared by all node types.
// Discovered redeem and witness scripts are staged in reg and only committed
// to the caller's SigningMaterials once the whole expansion has succeeded.
type expander interface {
	Descriptor
	expand(index uint32, materials *SigningMaterials, reg map[ScriptID][]byte) ([][]byte, error)
}

func expandAndCommit(d expander, index uint32, materials *SigningMaterials) ([][]byte, error) {
	reg := make(map[ScriptID][]byte)
	scripts, err := d.expand(index, materials, reg)
	if err != nil {
		return nil, err
	}
	materials.commitScripts(reg)
	return scripts, nil
}

// leafKind selects the script template a single-key leaf produces.
type leafKind int

const (
	leafPk leafKind = iota
	leafPkh
	leafWpkh
)

func (k leafKind) String() string {
	switch k {
	case leafPk:
		return "pk"
	case leafPkh:
		return "pkh"
	default:
		return "wpkh"
	}
}

// leafDescriptor is a single-key descriptor: pk(KEY), pkh(KEY) or wpkh(KEY).
type leafDescriptor struct {
	kind leafKind
	key  keyExpression
}

func (d *leafDescriptor) Type() string  { return d.kind.String() }
func (d *leafDescriptor) IsRange() bool { return d.key.IsRange() }

func (d *leafDescriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.kind, d.key)
}

func (d *leafDescriptor) ToPrivateString(materials *SigningMaterials) (string, error) {
	key, err := d.key.privateString(materials)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", d.kind, key), nil
}

func (d *leafDescriptor) Expand(index uint32, materials *SigningMaterials) ([][]byte, error) {
	return expandAndCommit(d, index, materials)
}

func (d *leafDescriptor) expand(
	index uint32, materials *SigningMaterials, _ map[ScriptID][]byte,
) ([][]byte, error) {
	pubKey, err := d.key.derive(index, materials)
	if err != nil {
		return nil, err
	}

	var script []byte
	switch d.kind {
	case leafPk:
		script, err = p2pkScript(pubKey)
	case leafPkh:
		script, err = p2pkhScript(pubKey)
	case leafWpkh:
		script, err = p2wpkhScript(pubKey)
	}
	if err != nil {
		return nil, err
	}
	return [][]byte{script}, nil
}

// multiDescriptor is an m-of-n multisig descriptor. Keys appear in the
// script exactly as listed; no sorting is applied.
type multiDescriptor struct {
	threshold int
	keys      []keyExpression
}

func (d *multiDescriptor) Type() string { return "multi" }

func (d *multiDescriptor) IsRange() bool {
	for _, key := range d.keys {
		if key.IsRange() {
			return true
		}
	}
	return false
}

func (d *multiDescriptor) String() string {
	keys := make([]string, len(d.keys))
	for i, key := range d.keys {
		keys[i] = key.String()
	}
	return fmt.Sprintf("multi(%d,%s)", d.threshold, strings.Join(keys, ","))
}

func (d *multiDescriptor) ToPrivateString(materials *SigningMaterials) (string, error) {
	keys := make([]string, len(d.keys))
	for i, key := range d.keys {
		str, err := key.privateString(materials)
		if err != nil {
			return "", err
		}
		keys[i] = str
	}
	return fmt.Sprintf("multi(%d,%s)", d.threshold, strings.Join(keys, ",")), nil
}

func (d *multiDescriptor) Expand(index uint32, materials *SigningMaterials) ([][]byte, error) {
	return expandAndCommit(d, index, materials)
}

func (d *multiDescriptor) expand(
	index uint32, materials *SigningMaterials, _ map[ScriptID][]byte,
) ([][]byte, error) {
	pubKeys := make([][]byte, len(d.keys))
	for i, key := range d.keys {
		pubKey, err := key.derive(index, materials)
		if err != nil {
			return nil, err
		}
		pubKeys[i] = pubKey
	}

	script, err := multiSigScript(d.threshold, pubKeys)
	if err != nil {
		return nil, err
	}
	return [][]byte{script}, nil
}

// shDescriptor wraps its inner descriptor's script in a pay-to-script-hash
// template.
type shDescriptor struct {
	inner expander
}

func (d *shDescriptor) Type() string  { return "sh" }
func (d *shDescriptor) IsRange() bool { return d.inner.IsRange() }

func (d *shDescriptor) String() string {
	return fmt.Sprintf("sh(%s)", d.inner)
}

func (d *shDescriptor) ToPrivateString(materials *SigningMaterials) (string, error) {
	inner, err := d.inner.ToPrivateString(materials)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sh(%s)", inner), nil
}

func (d *shDescriptor) Expand(index uint32, materials *SigningMaterials) ([][]byte, error) {
	return expandAndCommit(d, index, materials)
}

func (d *shDescriptor) expand(
	index uint32, materials *SigningMaterials, reg map[ScriptID][]byte,
) ([][]byte, error) {
	inner, err := expandSingle(d.inner, index, materials, reg)
	if err != nil {
		return nil, err
	}

	script, err := p2shScript(inner)
	if err != nil {
		return nil, err
	}
	reg[NewScriptID(inner)] = inner
	return [][]byte{script}, nil
}

// wshDescriptor wraps its inner descriptor's script in a
// pay-to-witness-script-hash template.
type wshDescriptor struct {
	inner expander
}

func (d *wshDescriptor) Type() string  { return "wsh" }
func (d *wshDescriptor) IsRange() bool { return d.inner.IsRange() }

func (d *wshDescriptor) String() string {
	return fmt.Sprintf("wsh(%s)", d.inner)
}

func (d *wshDescriptor) ToPrivateString(materials *SigningMaterials) (string, error) {
	inner, err := d.inner.ToPrivateString(materials)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("wsh(%s)", inner), nil
}

func (d *wshDescriptor) Expand(index uint32, materials *SigningMaterials) ([][]byte, error) {
	return expandAndCommit(d, index, materials)
}

func (d *wshDescriptor) expand(
	index uint32, materials *SigningMaterials, reg map[ScriptID][]byte,
) ([][]byte, error) {
	inner, err := expandSingle(d.inner, index, materials, reg)
	if err != nil {
		return nil, err
	}

	script, err := p2wshScript(inner)
	if err != nil {
		return nil, err
	}
	reg[NewScriptID(inner)] = inner
	return [][]byte{script}, nil
}

// comboDescriptor yields every standard single-key script for one key: pay to
// pubkey, pay to pubkey hash, and, for compressed keys only, pay to witness
// pubkey hash plus its script-hash wrapping. Uncompressed keys yield the two
// legacy scripts only.
type comboDescriptor struct {
	key keyExpression
}

func (d *comboDescriptor) Type() string  { return "combo" }
func (d *comboDescriptor) IsRange() bool { return d.key.IsRange() }

func (d *comboDescriptor) String() string {
	return fmt.Sprintf("combo(%s)", d.key)
}

func (d *comboDescriptor) ToPrivateString(materials *SigningMaterials) (string, error) {
	key, err := d.key.privateString(materials)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("combo(%s)", key), nil
}

func (d *comboDescriptor) Expand(index uint32, materials *SigningMaterials) ([][]byte, error) {
	return expandAndCommit(d, index, materials)
}

func (d *comboDescriptor) expand(
	index uint32, materials *SigningMaterials, reg map[ScriptID][]byte,
) ([][]byte, error) {
	pubKey, err := d.key.derive(index, materials)
	if err != nil {
		return nil, err
	}

	pk, err := p2pkScript(pubKey)
	if err != nil {
		return nil, err
	}
	pkh, err := p2pkhScript(pubKey)
	if err != nil {
		return nil, err
	}
	scripts := [][]byte{pk, pkh}

	if d.key.isCompressed() {
		wpkh, err := p2wpkhScript(pubKey)
		if err != nil {
			return nil, err
		}
		sh, err := p2shScript(wpkh)
		if err != nil {
			return nil, err
		}
		reg[NewScriptID(wpkh)] = wpkh
		scripts = append(scripts, wpkh, sh)
	}

	return scripts, nil
}

// expandSingle expands a wrapped child, which by the nesting rules always
// yields exactly one script.
func expandSingle(
	d expander, index uint32, materials *SigningMaterials, reg map[ScriptID][]byte,
) ([]byte, error) {
	scripts, err := d.expand(index, materials, reg)
	if err != nil {
		return nil, err
	}
	return scripts[0], nil
}

func p2pkScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pubKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func p2pkhScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func p2wpkhScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash160(pubKey)).
		Script()
}

func p2shScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

func p2wshScript(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

func multiSigScript(threshold int, pubKeys [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddInt64(int64(threshold))
	for _, pubKey := range pubKeys {
		builder.AddData(pubKey)
	}
	builder.AddInt64(int64(len(pubKeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return builder.Script()
}
