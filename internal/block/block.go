// Package block models a block kind plus its decoded argument vector.
package block

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/encoding"
	"tilecraft.ai/internal/protocol"
)

var (
	ErrInvalidBlockKind = errors.New("invalid block kind")
	ErrUnknownFormat    = errors.New("unknown argument format")
)

// EmptyID is the kind every unset cell holds.
const EmptyID uint32 = 0

type Kind struct {
	ID   uint32
	Name string
}

// Block is a value: copy it with Clone when the argument slice must not be shared.
type Block struct {
	Kind Kind
	Args []any

	format []encoding.Tag
}

// FromID validates id against the kind table.
func FromID(c *catalogs.Catalogs, id uint32) (Block, error) {
	if c == nil {
		return Block{}, fmt.Errorf("%w: no kind table", ErrInvalidBlockKind)
	}
	name, ok := c.Kinds.Name(id)
	if !ok {
		return Block{}, fmt.Errorf("%w: id %d", ErrInvalidBlockKind, id)
	}
	return newBlock(c, Kind{ID: id, Name: name}), nil
}

// FromName resolves a symbolic name through the kind table.
func FromName(c *catalogs.Catalogs, name string) (Block, error) {
	if c == nil {
		return Block{}, fmt.Errorf("%w: no kind table", ErrInvalidBlockKind)
	}
	id, ok := c.Kinds.ID(name)
	if !ok {
		return Block{}, fmt.Errorf("%w: name %q", ErrInvalidBlockKind, name)
	}
	return newBlock(c, Kind{ID: id, Name: name}), nil
}

// From accepts either a numeric id or a name. A nil value is rejected.
func From(c *catalogs.Catalogs, v any) (Block, error) {
	switch x := v.(type) {
	case nil:
		return Block{}, fmt.Errorf("%w: missing", ErrInvalidBlockKind)
	case string:
		return FromName(c, x)
	case uint32:
		return FromID(c, x)
	case int:
		if x < 0 || uint64(x) > uint64(^uint32(0)) {
			return Block{}, fmt.Errorf("%w: id %d out of range", ErrInvalidBlockKind, x)
		}
		return FromID(c, uint32(x))
	case int32:
		if x < 0 {
			return Block{}, fmt.Errorf("%w: id %d out of range", ErrInvalidBlockKind, x)
		}
		return FromID(c, uint32(x))
	}
	return Block{}, fmt.Errorf("%w: unsupported %T", ErrInvalidBlockKind, v)
}

// With returns a block of the given kind with its argument slots filled in order.
func With(c *catalogs.Catalogs, name string, args ...any) (Block, error) {
	b, err := FromName(c, name)
	if err != nil {
		return Block{}, err
	}
	if len(args) != len(b.Args) {
		return Block{}, fmt.Errorf("%s takes %d arguments, got %d", name, len(b.Args), len(args))
	}
	copy(b.Args, args)
	return b, nil
}

func newBlock(c *catalogs.Catalogs, k Kind) Block {
	f := c.Formats.Of(k.Name)
	b := Block{Kind: k, format: f}
	if len(f) > 0 {
		b.Args = make([]any, len(f))
	}
	return b
}

func (b Block) ID() uint32   { return b.Kind.ID }
func (b Block) Name() string { return b.Kind.Name }

func (b Block) Format() []encoding.Tag { return b.format }

func (b Block) IsEmpty() bool { return b.Kind.ID == EmptyID }

func (b Block) Clone() Block {
	out := b
	if b.Args != nil {
		out.Args = make([]any, len(b.Args))
		for i, a := range b.Args {
			if raw, ok := a.([]byte); ok {
				a = append([]byte(nil), raw...)
			}
			out.Args[i] = a
		}
	}
	return out
}

// Equals compares kind id and every argument slot by type and value.
func (b Block) Equals(o Block) bool {
	if b.Kind.ID != o.Kind.ID {
		return false
	}
	if len(b.Args) != len(o.Args) {
		return false
	}
	for i := range b.Args {
		if !argEqual(b.Args[i], o.Args[i]) {
			return false
		}
	}
	return true
}

func argEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}

// SerializeArgs concatenates the encoded arguments in format order.
func (b Block) SerializeArgs() ([]byte, error) {
	if len(b.format) == 0 {
		return nil, nil
	}
	if len(b.Args) != len(b.format) {
		return nil, fmt.Errorf("%w: %s has %d args for %d fields", ErrUnknownFormat, b.Kind.Name, len(b.Args), len(b.format))
	}
	var w encoding.Writer
	for i, tag := range b.format {
		if err := w.Write(tag, b.Args[i]); err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", b.Kind.Name, i, err)
		}
	}
	return w.Bytes(), nil
}

// DeserializeArgs fills the argument slots from r. In typed mode each value is
// preceded by its tag header byte.
func (b *Block) DeserializeArgs(r *encoding.Reader, typed bool) error {
	if len(b.format) != len(b.Args) {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, b.Kind.Name)
	}
	start := r.Offset()
	args := make([]any, len(b.format))
	for i, tag := range b.format {
		var err error
		if typed {
			args[i], err = r.ReadTyped(tag)
		} else {
			args[i], err = r.Read(tag)
		}
		if err != nil {
			r.Seek(start)
			return fmt.Errorf("%s arg %d: %w", b.Kind.Name, i, err)
		}
	}
	copy(b.Args, args)
	return nil
}

// Deserialize reads a little-endian uint32 kind id followed by its arguments.
func Deserialize(c *catalogs.Catalogs, r *encoding.Reader) (Block, error) {
	id, err := r.ReadUint32LE()
	if err != nil {
		return Block{}, err
	}
	b, err := FromID(c, id)
	if err != nil {
		return Block{}, err
	}
	if err := b.DeserializeArgs(r, false); err != nil {
		return Block{}, err
	}
	return b, nil
}

// FromPayload rebuilds a block from a kind id and an untyped argument
// payload. The kind's format fixes the payload, so bytes left over after the
// last argument are encoding.ErrTrailingBytes.
func FromPayload(c *catalogs.Catalogs, id uint32, payload []byte) (Block, error) {
	b, err := FromID(c, id)
	if err != nil {
		return Block{}, err
	}
	r := encoding.NewReader(payload)
	if len(b.format) > 0 {
		if err := b.DeserializeArgs(r, false); err != nil {
			return Block{}, err
		}
	}
	if n := r.Remaining(); n > 0 {
		return Block{}, fmt.Errorf("%s payload: %w: %d after offset %d", b.Kind.Name, encoding.ErrTrailingBytes, n, r.Offset())
	}
	return b, nil
}

// ToPacket places this block at every position in one packet, without any
// coalescing. Argument encoding failures surface as an error.
func (b Block) ToPacket(layer protocol.Layer, positions ...protocol.Point) (protocol.Packet, error) {
	extra, err := b.SerializeArgs()
	if err != nil {
		return protocol.Packet{}, err
	}
	return protocol.Packet{
		BlockID:     b.Kind.ID,
		Layer:       layer,
		Positions:   append([]protocol.Point(nil), positions...),
		ExtraFields: extra,
	}, nil
}

func (b Block) ToFillPacket(layer protocol.Layer, pos protocol.Point, ignoreLayers bool) (protocol.FillPacket, error) {
	extra, err := b.SerializeArgs()
	if err != nil {
		return protocol.FillPacket{}, err
	}
	return protocol.FillPacket{
		BlockID:      b.Kind.ID,
		Layer:        layer,
		Position:     pos,
		ExtraFields:  extra,
		IgnoreLayers: ignoreLayers,
	}, nil
}

func (b Block) String() string {
	name := b.Kind.Name
	if name == "" {
		name = fmt.Sprint(b.Kind.ID)
	}
	if len(b.Args) == 0 {
		return "Block[" + name + "]"
	}
	parts := make([]string, len(b.Args))
	for i, a := range b.Args {
		parts[i] = fmt.Sprint(a)
	}
	return "Block[" + name + ";" + strings.Join(parts, ",") + "]"
}
