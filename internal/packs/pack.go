// Package packs maps signal types to the key dimensions that identify an
// issue within a governed domain. Each pack covers one domain (treasury,
// wealth); a Registry assembles packs once at startup and is read-only after.
package packs

import (
	"encoding/json"
	"strconv"

	"github.com/JaimeStill/steward/pkg/canonical"
)

// DefaultPack names the fallback used for signal types no pack registers.
const DefaultPack = "default"

// Extractor reduces a signal payload to the dimensions that decide identity.
type Extractor interface {
	KeyDimensions(signalType string, payload map[string]any) map[string]string
}

// ExtractFunc is a pure payload to key-dimension mapping for one signal type.
type ExtractFunc func(payload map[string]any) map[string]string

// Option is a decision choice offered for a signal type. Options carry no
// score or rank; callers present them in declaration order.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// SignalType binds a signal type name to its extractor and decision options.
type SignalType struct {
	Name    string
	Extract ExtractFunc
	Options []Option
}

// Pack is a named set of signal type definitions for one governed domain.
type Pack struct {
	Name    string
	Signals []SignalType
}

// KeyDimensions applies the pack's extractor for signalType, falling back to
// the default extractor for types the pack does not declare.
func (p Pack) KeyDimensions(signalType string, payload map[string]any) map[string]string {
	for _, s := range p.Signals {
		if s.Name == signalType {
			return s.Extract(payload)
		}
	}
	return Default{}.KeyDimensions(signalType, payload)
}

// Fields returns an ExtractFunc that copies the named payload fields that are
// present and non-null. Values are compared as text, so an identifier sent as
// 1 by one feed and "1" by another names the same dimension value; numbers use
// their canonical decimal form (1, 1.0 and 1e0 all become "1").
func Fields(keys ...string) ExtractFunc {
	return func(payload map[string]any) map[string]string {
		dims := make(map[string]string, len(keys))
		for _, k := range keys {
			if v, ok := stringify(payload[k]); ok {
				dims[k] = v
			}
		}
		return dims
	}
}

// Default pulls asset if present, otherwise client_id and portfolio_id if
// present, otherwise nothing.
type Default struct{}

func (Default) KeyDimensions(_ string, payload map[string]any) map[string]string {
	if v, ok := stringify(payload["asset"]); ok {
		return map[string]string{"asset": v}
	}
	return Fields("client_id", "portfolio_id")(payload)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return canonical.Number(t).String(), true
	default:
		b, err := canonical.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
