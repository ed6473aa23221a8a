package bootstrap

import (
	"fmt"

	"github.com/bootforge/bootforge/pkg/state"
)

// Phase is an ordered group of units representing one stage of environment
// setup. Ordering between phases encodes real dependency relationships, so
// phases always execute in declaration order.
type Phase struct {
	// ID is the stable phase identifier, unique across the plan and free of
	// ':' (it keys the persisted phase records).
	ID string

	// Name is the human-readable phase name.
	Name string

	// Units are the phase's units in execution order.
	Units []Unit
}

// Builder assembles the ordered list of phases for a run. Registration is
// explicit and static; the resulting plan never changes after Build.
type Builder struct {
	phases []*Phase
	err    error
}

// NewBuilder creates an empty plan builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Phase opens a new phase. Units added afterwards belong to it until the
// next Phase call.
func (b *Builder) Phase(id, name string) *Builder {
	if b.err != nil {
		return b
	}
	if err := state.ValidateKey(id); err != nil {
		b.err = NewConfigError("invalid phase id", err).WithPhase(id)
		return b
	}
	b.phases = append(b.phases, &Phase{ID: id, Name: name})
	return b
}

// Unit appends a unit to the phase opened by the preceding Phase call.
func (b *Builder) Unit(u Unit) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.phases) == 0 {
		b.err = NewConfigError("unit registered before any phase", nil).WithUnit(u.ID())
		return b
	}
	current := b.phases[len(b.phases)-1]
	current.Units = append(current.Units, u)
	return b
}

// Build validates the plan and returns the ordered phases. It rejects
// duplicate phase or unit identifiers: re-using an ID for different work
// corrupts resume safety.
func (b *Builder) Build() ([]Phase, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.phases) == 0 {
		return nil, NewConfigError("plan has no phases", nil)
	}

	seenPhases := make(map[string]struct{}, len(b.phases))
	seenUnits := make(map[string]struct{})
	out := make([]Phase, 0, len(b.phases))

	for _, p := range b.phases {
		if _, dup := seenPhases[p.ID]; dup {
			return nil, NewConfigError(fmt.Sprintf("duplicate phase id %q", p.ID), nil)
		}
		seenPhases[p.ID] = struct{}{}

		for _, u := range p.Units {
			id := u.ID()
			if err := state.ValidateKey(id); err != nil {
				return nil, NewConfigError("invalid unit id", err).WithPhase(p.ID).WithUnit(id)
			}
			if _, dup := seenUnits[id]; dup {
				return nil, NewConfigError(fmt.Sprintf("duplicate unit id %q", id), nil).WithPhase(p.ID)
			}
			seenUnits[id] = struct{}{}
		}
		out = append(out, *p)
	}
	return out, nil
}

// FindPhase returns the index of the phase with the given ID, or -1.
func FindPhase(phases []Phase, id string) int {
	for i, p := range phases {
		if p.ID == id {
			return i
		}
	}
	return -1
}
