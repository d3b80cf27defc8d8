package overlay

import (
	"sort"

	"github.com/wippyai/embshell/errors"
)

// Field is one named member of a Layout.
type Field struct {
	Layout *Layout // nested struct, nil for scalars and arrays
	Name   string
	Offset uint32
	Count  uint32 // element count when Array is set
	Kind   Kind
	BitPos uint8
	BitLen uint8
	Array  bool
}

// Size returns the number of bytes the field occupies from its offset.
func (f Field) Size() uint32 {
	switch {
	case f.Layout != nil:
		return f.Layout.Footprint()
	case f.Array:
		return f.Kind.Width() * f.Count
	default:
		return f.Kind.Width()
	}
}

// Align returns the natural alignment of the field.
func (f Field) Align() uint32 {
	if f.Layout != nil {
		return f.Layout.Align()
	}
	return f.Kind.Width()
}

// Layout is an ordered, immutable set of fields. Fields may overlap, as
// in a C union.
type Layout struct {
	byName    map[string]int
	fields    []Field
	footprint uint32
	align     uint32
}

// NewLayout validates fields and computes the footprint.
func NewLayout(fields ...Field) (*Layout, error) {
	l := &Layout{
		byName: make(map[string]int, len(fields)),
		fields: make([]Field, 0, len(fields)),
		align:  1,
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, invalidDescriptor("", "field name is empty")
		}
		if _, dup := l.byName[f.Name]; dup {
			return nil, invalidDescriptor(f.Name, "duplicate field")
		}
		if f.Layout == nil && !f.Kind.valid() {
			return nil, invalidDescriptor(f.Name, "unknown field type %d", uint8(f.Kind))
		}
		l.byName[f.Name] = len(l.fields)
		l.fields = append(l.fields, f)

		if end := f.Offset + f.Size(); end > l.footprint {
			l.footprint = end
		}
		if a := f.Align(); a > l.align {
			l.align = a
		}
	}
	return l, nil
}

// MustLayout is NewLayout for layouts fixed at compile time.
func MustLayout(fields ...Field) *Layout {
	l, err := NewLayout(fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Member describes a field for Sequential.
type Member struct {
	Name string
	Kind Kind
}

// Sequential lays members out in order with natural alignment, the way a
// C compiler lays out a plain struct.
func Sequential(members ...Member) *Layout {
	fields := make([]Field, 0, len(members))
	offset := uint32(0)
	for _, m := range members {
		offset = AlignTo(offset, m.Kind.Width())
		fields = append(fields, Field{Name: m.Name, Kind: m.Kind, Offset: offset})
		offset += m.Kind.Width()
	}
	return MustLayout(fields...)
}

// Footprint is the highest byte offset any field touches.
func (l *Layout) Footprint() uint32 {
	return l.footprint
}

// Align is the largest field alignment.
func (l *Layout) Align() uint32 {
	return l.align
}

// Field looks up a field by name.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Field{}, false
	}
	return l.fields[i], true
}

// Fields returns the fields in declaration order.
func (l *Layout) Fields() []Field {
	out := make([]Field, len(l.fields))
	copy(out, l.fields)
	return out
}

// Names returns field names sorted by offset, then name.
func (l *Layout) Names() []string {
	fs := l.Fields()
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Offset != fs[j].Offset {
			return fs[i].Offset < fs[j].Offset
		}
		return fs[i].Name < fs[j].Name
	})
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

func checkFootprint(l *Layout, buf []byte) error {
	if int(l.footprint) > len(buf) {
		return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Detail("struct footprint %d exceeds buffer length %d", l.footprint, len(buf)).
			Build()
	}
	return nil
}
