// Package vcb decodes W3C Verifiable Credential barcodes: a base45 (QR) or
// base10 (PDF417) wrapper around a deflate-compressed CBOR-LD document. The
// CBOR-LD term table comes from an injected context map since barcode
// scanning runs offline.
package vcb

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/spruceid/mobile-sdk-go/pkg/ldproof"
)

// QRPrefix starts every QR-carried VC barcode payload.
const QRPrefix = "VC1-"

// TermMap maps CBOR-LD term identifiers to the JSON-LD terms they compress.
// Identifiers are assigned by the context the barcode was minted against.
type TermMap map[uint64]string

// DecodeQR decodes a QR-format barcode payload into the JSON credential it
// carries. The "VC1-" prefix is optional in the input.
func DecodeQR(data string, terms TermMap) (map[string]any, error) {
	data = strings.TrimPrefix(strings.TrimSpace(data), QRPrefix)
	if data == "" {
		return nil, fmt.Errorf("barcode payload cannot be empty")
	}
	compressed, err := decodeBase45(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base45 payload: %w", err)
	}
	return decodeCompressed(compressed, terms)
}

// DecodePDF417 decodes a PDF417-format barcode payload, which carries the
// same document in a decimal encoding.
func DecodePDF417(data string, terms TermMap) (map[string]any, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("barcode payload cannot be empty")
	}
	compressed, err := decodeBase10(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base10 payload: %w", err)
	}
	return decodeCompressed(compressed, terms)
}

// Verify checks the decoded credential's data-integrity proof against the
// issuer public key. contexts supplies the JSON-LD context documents needed
// for canonicalization.
func Verify(doc map[string]any, pub *ecdsa.PublicKey, contexts map[string]any) error {
	return ldproof.Verify(doc, pub, contexts)
}

func decodeCompressed(compressed []byte, terms TermMap) (map[string]any, error) {
	raw, err := inflate(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}

	var doc map[interface{}]interface{}
	if err := cbor.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR-LD document: %w", err)
	}

	expanded, err := expand(doc, terms)
	if err != nil {
		return nil, err
	}
	out, ok := expanded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("CBOR-LD document is not a map")
	}
	return out, nil
}

// expand rewrites a decoded CBOR-LD tree into its JSON-LD form, resolving
// integer term identifiers through the term map.
func expand(v interface{}, terms TermMap) (any, error) {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(t))
		for k, val := range t {
			term, err := resolveTerm(k, terms)
			if err != nil {
				return nil, err
			}
			expanded, err := expand(val, terms)
			if err != nil {
				return nil, err
			}
			out[term] = expanded
		}
		return out, nil
	case []interface{}:
		out := make([]any, len(t))
		for i, e := range t {
			expanded, err := expand(e, terms)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	case []byte:
		// Byte strings carry raw values (signatures, hashes) untouched.
		return t, nil
	default:
		return t, nil
	}
}

func resolveTerm(key interface{}, terms TermMap) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case uint64:
		term, ok := terms[k]
		if !ok {
			return "", fmt.Errorf("unknown CBOR-LD term id %d", k)
		}
		return term, nil
	case int64:
		if k < 0 {
			return "", fmt.Errorf("invalid CBOR-LD term id %d", k)
		}
		term, ok := terms[uint64(k)]
		if !ok {
			return "", fmt.Errorf("unknown CBOR-LD term id %d", k)
		}
		return term, nil
	default:
		return "", fmt.Errorf("unsupported CBOR-LD key type %T", key)
	}
}

const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

// decodeBase45 decodes RFC 9285 base45: chunks of 3 characters carry 2
// bytes, a trailing chunk of 2 characters carries 1 byte.
func decodeBase45(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, fmt.Errorf("invalid base45 length %d", len(s))
	}
	values := make([]int, len(s))
	for i, r := range s {
		idx := strings.IndexRune(base45Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base45 character %q at %d", r, i)
		}
		values[i] = idx
	}

	out := make([]byte, 0, len(s)/3*2+1)
	for i := 0; i+2 < len(values); i += 3 {
		n := values[i] + values[i+1]*45 + values[i+2]*45*45
		if n > 0xffff {
			return nil, fmt.Errorf("base45 chunk overflow at %d", i)
		}
		out = append(out, byte(n>>8), byte(n))
	}
	if rem := len(values) % 3; rem == 2 {
		n := values[len(values)-2] + values[len(values)-1]*45
		if n > 0xff {
			return nil, fmt.Errorf("base45 tail overflow")
		}
		out = append(out, byte(n))
	}
	return out, nil
}

// decodeBase10 decodes the decimal encoding PDF417 symbologies carry. The
// encoder prepends a 0x01 marker byte before the decimal conversion so
// leading zero bytes survive the round trip.
func decodeBase10(s string) ([]byte, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base10 payload")
	}
	raw := n.Bytes()
	if len(raw) == 0 || raw[0] != 0x01 {
		return nil, fmt.Errorf("base10 payload missing marker byte")
	}
	return raw[1:], nil
}

// inflate decompresses a raw deflate stream, accepting the zlib-wrapped
// form some encoders emit.
func inflate(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	out, err := io.ReadAll(r)
	r.Close()
	if err == nil && len(out) > 0 {
		return out, nil
	}

	zr, zerr := zlib.NewReader(bytes.NewReader(b))
	if zerr != nil {
		if err != nil {
			return nil, err
		}
		return nil, zerr
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
