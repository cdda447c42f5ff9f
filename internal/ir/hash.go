package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainMethod    = "sqlext/method/v1"
	DomainExtension = "sqlext/extension/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MethodHash computes the content hash of a method declaration.
//
// Two declarations hash equal when they would behave identically: same
// owning extension, signature, statement text, bindings, return shape and
// generated key columns. Parameter names are included since named
// placeholders resolve against them.
func MethodHash(extension string, m MethodSpec) (string, error) {
	canonical, err := MarshalCanonical(methodObject(extension, m))
	if err != nil {
		return "", fmt.Errorf("MethodHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMethod, canonical), nil
}

// ExtensionHash computes the content hash of a whole extension.
// Method order does not matter.
func ExtensionHash(e ExtensionSpec) (string, error) {
	methods := make(IRObject, len(e.Methods))
	for _, m := range e.Methods {
		h, err := MethodHash(e.Name, m)
		if err != nil {
			return "", err
		}
		methods[m.Signature()] = IRString(h)
	}

	canonical, err := MarshalCanonical(IRObject{
		"name":    IRString(e.Name),
		"methods": methods,
	})
	if err != nil {
		return "", fmt.Errorf("ExtensionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainExtension, canonical), nil
}

func methodObject(extension string, m MethodSpec) IRObject {
	params := make(IRArray, len(m.Params))
	for i, p := range m.Params {
		params[i] = IRObject{"name": IRString(p.Name), "type": IRString(p.Type)}
	}

	binds := make(IRArray, len(m.Binds))
	for i, b := range m.Binds {
		obj := IRObject{
			"name":     IRString(b.Name),
			"position": IRInt(b.Position),
			"arg":      IRInt(b.Arg),
			"field":    IRString(b.Field),
		}
		if b.Literal != nil {
			obj["literal"] = b.Literal
		}
		binds[i] = obj
	}

	keys := make(IRArray, len(m.GeneratedKeys))
	for i, k := range m.GeneratedKeys {
		keys[i] = IRString(k)
	}

	return IRObject{
		"extension":      IRString(extension),
		"signature":      IRString(m.Signature()),
		"kind":           IRString(m.Kind),
		"sql":            IRString(m.SQL),
		"params":         params,
		"binds":          binds,
		"returns":        IRString(m.Returns),
		"generated_keys": keys,
	}
}
