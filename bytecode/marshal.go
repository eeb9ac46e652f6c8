package bytecode

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cloudcmds/petrel/op"
)

// Current schema version - increment when the payload format changes.
const marshalSchemaVersion uint16 = 1

// functionPayload is the wire form of a Function. Offsets and counts are
// narrowed to fixed-width fields so payloads stay portable across platforms.
type functionPayload struct {
	Schema         uint16           `msgpack:"schema"`
	Name           string           `msgpack:"name"`
	ClassName      string           `msgpack:"class,omitempty"`
	Instructions   []uint16         `msgpack:"ins"`
	Constants      []any            `msgpack:"consts,omitempty"`
	NumLocals      uint32           `msgpack:"locals"`
	NumSlots       uint32           `msgpack:"slots"`
	NumClsRefSlots uint32           `msgpack:"clsrefs"`
	Base           uint32           `msgpack:"base"`
	Handlers       []handlerPayload `msgpack:"eh,omitempty"`
	CallPreps      []regionPayload  `msgpack:"fpi,omitempty"`
	Flags          uint8            `msgpack:"flags"`
}

type handlerPayload struct {
	Kind    uint8  `msgpack:"kind"`
	Base    uint32 `msgpack:"base"`
	Past    uint32 `msgpack:"past"`
	Handler uint32 `msgpack:"handler"`
	Parent  int32  `msgpack:"parent"`
}

type regionPayload struct {
	Prep uint32 `msgpack:"prep"`
	Call uint32 `msgpack:"call"`
}

const (
	flagAsync uint8 = 1 << iota
	flagAsyncGen
	flagGen
	flagBuiltin
	flagCtor
)

// Marshal serializes a Function to its msgpack wire form.
func Marshal(f *Function) ([]byte, error) {
	numLocals, err := safecast.Conv[uint32](f.numLocals)
	if err != nil {
		return nil, fmt.Errorf("marshal %q: %w", f.name, err)
	}
	numSlots, err := safecast.Conv[uint32](f.numSlots)
	if err != nil {
		return nil, fmt.Errorf("marshal %q: %w", f.name, err)
	}
	numClsRefs, err := safecast.Conv[uint32](f.numClsRefSlots)
	if err != nil {
		return nil, fmt.Errorf("marshal %q: %w", f.name, err)
	}
	base, err := safecast.Conv[uint32](f.base)
	if err != nil {
		return nil, fmt.Errorf("marshal %q: %w", f.name, err)
	}
	p := functionPayload{
		Schema:         marshalSchemaVersion,
		Name:           f.name,
		ClassName:      f.className,
		Instructions:   make([]uint16, len(f.instructions)),
		Constants:      f.constants,
		NumLocals:      numLocals,
		NumSlots:       numSlots,
		NumClsRefSlots: numClsRefs,
		Base:           base,
	}
	for i, word := range f.instructions {
		p.Instructions[i] = uint16(word)
	}
	for _, h := range f.handlers {
		hBase, err := safecast.Conv[uint32](h.Base)
		if err != nil {
			return nil, fmt.Errorf("marshal %q handler: %w", f.name, err)
		}
		hPast, err := safecast.Conv[uint32](h.Past)
		if err != nil {
			return nil, fmt.Errorf("marshal %q handler: %w", f.name, err)
		}
		hOff, err := safecast.Conv[uint32](h.HandlerOffset)
		if err != nil {
			return nil, fmt.Errorf("marshal %q handler: %w", f.name, err)
		}
		parent, err := safecast.Conv[int32](h.ParentIndex)
		if err != nil {
			return nil, fmt.Errorf("marshal %q handler: %w", f.name, err)
		}
		p.Handlers = append(p.Handlers, handlerPayload{
			Kind:    uint8(h.Kind),
			Base:    hBase,
			Past:    hPast,
			Handler: hOff,
			Parent:  parent,
		})
	}
	for _, r := range f.callPreps {
		prep, err := safecast.Conv[uint32](r.PrepOffset)
		if err != nil {
			return nil, fmt.Errorf("marshal %q call-prep: %w", f.name, err)
		}
		call, err := safecast.Conv[uint32](r.CallOffset)
		if err != nil {
			return nil, fmt.Errorf("marshal %q call-prep: %w", f.name, err)
		}
		p.CallPreps = append(p.CallPreps, regionPayload{Prep: prep, Call: call})
	}
	if f.isAsync {
		p.Flags |= flagAsync
	}
	if f.isAsyncGen {
		p.Flags |= flagAsyncGen
	}
	if f.isGen {
		p.Flags |= flagGen
	}
	if f.isBuiltin {
		p.Flags |= flagBuiltin
	}
	if f.isCtor {
		p.Flags |= flagCtor
	}
	return msgpack.Marshal(p)
}

// Unmarshal deserializes a Function from its msgpack wire form.
func Unmarshal(data []byte) (*Function, error) {
	var p functionPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal function: %w", err)
	}
	if p.Schema != marshalSchemaVersion {
		return nil, fmt.Errorf("unsupported function schema version: %d", p.Schema)
	}
	params := FunctionParams{
		Name:             p.Name,
		ClassName:        p.ClassName,
		Instructions:     make([]op.Code, len(p.Instructions)),
		Constants:        normalizeConstants(p.Constants),
		NumLocals:        int(p.NumLocals),
		NumSlotsInFrame:  int(p.NumSlots),
		NumClsRefSlots:   int(p.NumClsRefSlots),
		Base:             int(p.Base),
		IsAsyncFunction:  p.Flags&flagAsync != 0,
		IsAsyncGenerator: p.Flags&flagAsyncGen != 0,
		IsGenerator:      p.Flags&flagGen != 0,
		IsBuiltin:        p.Flags&flagBuiltin != 0,
		IsConstructor:    p.Flags&flagCtor != 0,
	}
	for i, word := range p.Instructions {
		params.Instructions[i] = op.Code(word)
	}
	for _, h := range p.Handlers {
		params.Handlers = append(params.Handlers, Handler{
			Kind:          HandlerKind(h.Kind),
			Base:          int(h.Base),
			Past:          int(h.Past),
			HandlerOffset: int(h.Handler),
			ParentIndex:   int(h.Parent),
		})
	}
	for _, r := range p.CallPreps {
		params.CallPrepRegions = append(params.CallPrepRegions, CallPrepRegion{
			PrepOffset: int(r.Prep),
			CallOffset: int(r.Call),
		})
	}
	return NewFunction(params), nil
}

func marshalPayload(p functionPayload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func unmarshalPayload(data []byte, p *functionPayload) error {
	return msgpack.Unmarshal(data, p)
}

// normalizeConstants maps msgpack's decoded numeric types back to the
// constant kinds the compiler emits.
func normalizeConstants(in []any) []any {
	out := make([]any, len(in))
	for i, c := range in {
		switch c := c.(type) {
		case int8:
			out[i] = int64(c)
		case int16:
			out[i] = int64(c)
		case int32:
			out[i] = int64(c)
		case int:
			out[i] = int64(c)
		case uint8:
			out[i] = int64(c)
		case uint16:
			out[i] = int64(c)
		case uint32:
			out[i] = int64(c)
		case uint64:
			out[i] = int64(c)
		case float32:
			out[i] = float64(c)
		default:
			out[i] = c
		}
	}
	return out
}
