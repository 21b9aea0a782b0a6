package packs

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicateSignalType indicates two packs register the same signal type.
var ErrDuplicateSignalType = errors.New("signal type registered by more than one pack")

type entry struct {
	pack    string
	extract ExtractFunc
	options []Option
}

// Registry resolves signal types to their owning pack. It is immutable after
// NewRegistry returns and safe for concurrent use without locking.
type Registry struct {
	entries map[string]entry
	packs   []string
}

// NewRegistry indexes the given packs by signal type.
func NewRegistry(packs ...Pack) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]entry),
		packs:   make([]string, 0, len(packs)),
	}

	for _, p := range packs {
		if p.Name == "" || p.Name == DefaultPack {
			return nil, fmt.Errorf("invalid pack name %q", p.Name)
		}
		if slices.Contains(r.packs, p.Name) {
			return nil, fmt.Errorf("pack %s registered twice", p.Name)
		}
		r.packs = append(r.packs, p.Name)

		for _, s := range p.Signals {
			if s.Extract == nil {
				return nil, fmt.Errorf("pack %s: signal type %s has no extractor", p.Name, s.Name)
			}
			if existing, ok := r.entries[s.Name]; ok {
				return nil, fmt.Errorf("%w: %s (%s, %s)", ErrDuplicateSignalType, s.Name, existing.pack, p.Name)
			}
			r.entries[s.Name] = entry{
				pack:    p.Name,
				extract: s.Extract,
				options: slices.Clone(s.Options),
			}
		}
	}

	return r, nil
}

// Builtin returns a registry over the treasury and wealth packs.
func Builtin() *Registry {
	r, err := NewRegistry(Treasury(), Wealth())
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the extractor and pack name for signalType, or the default
// extractor and DefaultPack when no pack registers it.
func (r *Registry) Resolve(signalType string) (Extractor, string) {
	if e, ok := r.entries[signalType]; ok {
		return e, e.pack
	}
	return Default{}, DefaultPack
}

// KeyDimensions makes the registry itself an Extractor over all packs.
func (r *Registry) KeyDimensions(signalType string, payload map[string]any) map[string]string {
	ext, _ := r.Resolve(signalType)
	return ext.KeyDimensions(signalType, payload)
}

// Options returns a copy of the declared options for signalType in declaration order.
func (r *Registry) Options(signalType string) []Option {
	e, ok := r.entries[signalType]
	if !ok {
		return nil
	}
	return slices.Clone(e.options)
}

// Packs lists registered pack names in registration order.
func (r *Registry) Packs() []string {
	return slices.Clone(r.packs)
}

// SignalTypes lists the signal types registered by pack, sorted.
func (r *Registry) SignalTypes(pack string) []string {
	types := make([]string, 0)
	for name, e := range r.entries {
		if e.pack == pack {
			types = append(types, name)
		}
	}
	slices.Sort(types)
	return types
}

func (e entry) KeyDimensions(_ string, payload map[string]any) map[string]string {
	return e.extract(payload)
}
