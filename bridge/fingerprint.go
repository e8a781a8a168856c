package bridge

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/garnet/meta"
)

// Shape fingerprints let two descriptors share a class name when they
// describe the same script surface, for example when a host builds a
// descriptor twice. The shape is encoded as canonical CBOR so equal shapes
// hash equally.

var shapeEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to create CBOR enc mode: %v", err))
	}
	shapeEncMode = em
}

type paramShape struct {
	Type   uint8  `cbor:"1,keyasint"`
	GoType string `cbor:"2,keyasint,omitempty"`
}

type signatureShape struct {
	Params   []paramShape `cbor:"1,keyasint"`
	Variadic bool         `cbor:"2,keyasint"`
}

type methodShape struct {
	Name      string         `cbor:"1,keyasint"`
	Signature signatureShape `cbor:"2,keyasint"`
}

type propertyShape struct {
	Name     string `cbor:"1,keyasint"`
	Type     uint8  `cbor:"2,keyasint"`
	ReadOnly bool   `cbor:"3,keyasint"`
}

type classShape struct {
	Name         string           `cbor:"1,keyasint"`
	Super        string           `cbor:"2,keyasint,omitempty"`
	GoType       string           `cbor:"3,keyasint,omitempty"`
	Constructors []signatureShape `cbor:"4,keyasint"`
	Methods      []methodShape    `cbor:"5,keyasint"`
	Properties   []propertyShape  `cbor:"6,keyasint"`
}

func shapeOfSignature(s meta.Signature) signatureShape {
	out := signatureShape{Variadic: s.Variadic, Params: make([]paramShape, len(s.Params))}
	for i, p := range s.Params {
		out.Params[i] = paramShape{Type: uint8(p.Type)}
		if p.GoType != nil {
			out.Params[i].GoType = p.GoType.String()
		}
	}
	return out
}

func shapeOf(c *meta.Class) classShape {
	s := classShape{Name: c.Name}
	if c.Super != nil {
		s.Super = c.Super.Name
	}
	if c.GoType != nil {
		s.GoType = c.GoType.String()
	}
	for _, k := range c.Constructors {
		s.Constructors = append(s.Constructors, shapeOfSignature(k.Signature))
	}
	for _, m := range c.Methods {
		s.Methods = append(s.Methods, methodShape{Name: m.Name, Signature: shapeOfSignature(m.Signature)})
	}
	for _, p := range c.Properties {
		s.Properties = append(s.Properties, propertyShape{Name: p.Name, Type: uint8(p.Type), ReadOnly: p.ReadOnly()})
	}
	return s
}

// Fingerprint returns a digest of the script-visible shape of c.
func Fingerprint(c *meta.Class) ([]byte, error) {
	data, err := shapeEncMode.Marshal(shapeOf(c))
	if err != nil {
		return nil, fmt.Errorf("bridge: encode shape of %s: %w", c.Name, err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func sameShape(a, b *meta.Class) (bool, error) {
	fa, err := Fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := Fingerprint(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(fa, fb), nil
}
