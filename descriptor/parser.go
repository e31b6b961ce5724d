package descriptor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"

	"github.com/fedsig/go-fedsig/network"
)

// scriptContext identifies the position a script expression appears in. The
// nesting rules depend on it: sh accepts single-key leaves, multisigs and
// wsh; wsh accepts single-key leaves and multisigs only; combo is top level
// only.
type scriptContext int

const (
	ctxTop scriptContext = iota
	// ctxSh marks expressions directly inside sh(...), whose script must
	// fit a legacy redeem script.
	ctxSh
	// ctxWsh marks expressions inside wsh(...), a witness context where
	// only compressed keys are accepted.
	ctxWsh
)

// maxMultiSigKeys bounds the number of cosigners of a multisig expression,
// matching the consensus CHECKMULTISIG key limit.
const maxMultiSigKeys = 20

var expressionNameRE = regexp.MustCompile(`^[a-z_]+$`)

func parseScriptExpression(
	desc string, ctx scriptContext, net *network.Network, materials *SigningMaterials,
) (expander, error) {
	name, inner, err := splitFuncAndScriptExpression(desc)
	if err != nil {
		return nil, err
	}

	switch name {
	case "pk", "pkh":
		key, err := parseKeyExpression(inner, ctx == ctxWsh, net, materials)
		if err != nil {
			return nil, err
		}

		kind := leafPk
		if name == "pkh" {
			kind = leafPkh
		}
		return &leafDescriptor{kind: kind, key: key}, nil

	case "wpkh":
		if ctx == ctxWsh {
			return nil, fmt.Errorf(
				"%w: cannot embed a witness script inside a witness script", ErrIllegalNesting,
			)
		}

		key, err := parseKeyExpression(inner, true, net, materials)
		if err != nil {
			return nil, err
		}

		return &leafDescriptor{kind: leafWpkh, key: key}, nil

	case "combo":
		if ctx != ctxTop {
			return nil, fmt.Errorf("%w: combo can only be used at the top level", ErrIllegalNesting)
		}

		key, err := parseKeyExpression(inner, false, net, materials)
		if err != nil {
			return nil, err
		}

		return &comboDescriptor{key: key}, nil

	case "multi":
		return parseMultiExpression(inner, ctx, net, materials)

	case "sh":
		if ctx != ctxTop {
			return nil, fmt.Errorf("%w: sh can only be used at the top level", ErrIllegalNesting)
		}

		child, err := parseScriptExpression(inner, ctxSh, net, materials)
		if err != nil {
			return nil, err
		}

		return &shDescriptor{inner: child}, nil

	case "wsh":
		if ctx == ctxWsh {
			return nil, fmt.Errorf(
				"%w: cannot embed a witness script inside a witness script", ErrIllegalNesting,
			)
		}

		child, err := parseScriptExpression(inner, ctxWsh, net, materials)
		if err != nil {
			return nil, err
		}

		return &wshDescriptor{inner: child}, nil

	default:
		return nil, fmt.Errorf("%w: unknown script expression %q", ErrSyntax, name)
	}
}

func parseMultiExpression(
	inner string, ctx scriptContext, net *network.Network, materials *SigningMaterials,
) (expander, error) {
	parts := strings.Split(inner, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf(
			"%w: multi requires a threshold and at least one key", ErrSyntax,
		)
	}

	threshold, err := parseThreshold(parts[0])
	if err != nil {
		return nil, err
	}

	// Script size accounting mirrors what multiSigScript will build: one
	// push per key plus the threshold, key count and CHECKMULTISIG bytes.
	scriptLen := 3
	keys := make([]keyExpression, 0, len(parts)-1)
	for _, token := range parts[1:] {
		key, err := parseKeyExpression(token, ctx == ctxWsh, net, materials)
		if err != nil {
			return nil, err
		}
		scriptLen += 1 + key.serializedLen()
		keys = append(keys, key)
	}

	if len(keys) > maxMultiSigKeys {
		return nil, fmt.Errorf(
			"%w: multi allows at most %d keys, got %d", ErrSyntax, maxMultiSigKeys, len(keys),
		)
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf(
			"%w: multisig threshold %d out of range [1, %d]", ErrSyntax, threshold, len(keys),
		)
	}
	if ctx == ctxSh && scriptLen > txscript.MaxScriptElementSize {
		return nil, fmt.Errorf(
			"%w: %d byte multisig script does not fit a %d byte redeem script",
			ErrIllegalNesting, scriptLen, txscript.MaxScriptElementSize,
		)
	}

	return &multiDescriptor{threshold: threshold, keys: keys}, nil
}

func parseThreshold(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: invalid multisig threshold %q", ErrSyntax, s)
		}
	}

	threshold, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid multisig threshold %q", ErrSyntax, s)
	}
	return threshold, nil
}

// splitFuncAndScriptExpression splits NAME(INNER) into its parts, rejecting
// unbalanced parentheses and trailing characters.
func splitFuncAndScriptExpression(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: empty descriptor", ErrSyntax)
	}

	i := strings.IndexByte(s, '(')
	if i < 0 || s[len(s)-1] != ')' {
		return "", "", fmt.Errorf("%w: %q is not a script expression", ErrSyntax, s)
	}

	name := s[:i]
	if !expressionNameRE.MatchString(name) {
		return "", "", fmt.Errorf("%w: invalid script expression name %q", ErrSyntax, name)
	}

	inner := s[i+1 : len(s)-1]
	depth := 0
	for _, r := range inner {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", "", fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
			}
		}
	}
	if depth != 0 {
		return "", "", fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
	}

	return name, inner, nil
}
