// Package fingerprint derives the stable identity key that decides whether two
// signals describe the same open exception.
package fingerprint

import (
	"fmt"

	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/pkg/canonical"
)

// Key is the fingerprint of a signal together with the inputs it was derived from.
type Key struct {
	Value      string            `json:"fingerprint"`
	SignalType string            `json:"signal_type"`
	Pack       string            `json:"pack"`
	Dimensions map[string]string `json:"dimensions"`
}

// Engine computes fingerprints using a pack registry.
type Engine struct {
	registry *packs.Registry
}

// New creates an Engine over registry.
func New(registry *packs.Registry) *Engine {
	return &Engine{registry: registry}
}

// Fingerprint hashes the signal type and its key dimensions. Payload fields
// outside the key dimensions do not affect the result.
func (e *Engine) Fingerprint(signalType string, payload map[string]any) (Key, error) {
	ext, pack := e.registry.Resolve(signalType)
	dims := ext.KeyDimensions(signalType, payload)
	if dims == nil {
		dims = map[string]string{}
	}

	value, err := Compute(signalType, dims)
	if err != nil {
		return Key{}, err
	}

	return Key{
		Value:      value,
		SignalType: signalType,
		Pack:       pack,
		Dimensions: dims,
	}, nil
}

// Compute returns the hex SHA-256 of the canonical {"signal_type","dimensions"} document.
func Compute(signalType string, dims map[string]string) (string, error) {
	value, err := canonical.Hash(map[string]any{
		"signal_type": signalType,
		"dimensions":  dims,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", signalType, err)
	}
	return value, nil
}
