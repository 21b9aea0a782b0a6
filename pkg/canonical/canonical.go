// Package canonical produces deterministic JSON encodings and SHA-256 digests used for
// content hashing, fingerprints and evaluation input hashes.
//
// Values are first encoded with encoding/json and then decoded into generic values
// with UseNumber, so struct field order, map iteration order and whitespace never
// influence the output. Map keys are emitted in sorted order. Numbers are
// rewritten as exact decimals and never pass through float64, so distinct values
// always keep distinct encodings.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// maxExponent bounds the exponents expanded to plain decimals. Larger exponents
// keep their original text.
const maxExponent = 400

// ErrUnserializable indicates a value that cannot be represented as JSON.
var ErrUnserializable = errors.New("value is not JSON serializable")

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(generic)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the hex-encoded SHA-256 digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalize rewrites numbers so that equal values share one textual form
// (1, 1.0 and 1e0 all encode as 1).
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	case json.Number:
		return Number(t)
	default:
		return t
	}
}

// Number returns the canonical text of n: integers without fraction or
// exponent, other values as the shortest exact decimal. The value is never
// rounded.
func Number(n json.Number) json.Number {
	if i, err := n.Int64(); err == nil {
		return json.Number(strconv.FormatInt(i, 10))
	}

	s := n.String()
	if exponent(s) > maxExponent {
		return n
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return n
	}
	if r.IsInt() {
		return json.Number(r.Num().String())
	}

	// a JSON decimal has a denominator of 2^a*5^b, exact within BitLen digits
	d := r.FloatString(r.Denom().BitLen())
	return json.Number(strings.TrimRight(d, "0"))
}

func exponent(s string) int {
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return 0
	}
	e, err := strconv.Atoi(strings.TrimPrefix(s[i+1:], "+"))
	if err != nil {
		return math.MaxInt
	}
	if e < 0 {
		return -e
	}
	return e
}
