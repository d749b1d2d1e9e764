// Package fragment reassembles multi-fragment transport messages into a
// single contiguous buffer before handing them to a typed handler,
// mirroring the Aeron fragment assembler wrapped in
// src/common/tp_aeron_wrap.h/.c (tp_fragment_assembler_create around
// aeron_fragment_assembler_t). spec.md §9 calls for replacing its
// void* clientd callback style with typed closures; Handler below is
// that closure.
package fragment

import "github.com/tensorpool/tensorpool/tperr"

// Flags marks a fragment's position within its original message, the
// same two-bit BEGIN/END scheme Aeron fragment headers use.
type Flags uint8

const (
	FlagBegin         Flags = 1 << 7
	FlagEnd           Flags = 1 << 6
	FlagUnfragmented        = FlagBegin | FlagEnd
)

func (f Flags) begin() bool { return f&FlagBegin != 0 }
func (f Flags) end() bool   { return f&FlagEnd != 0 }

// Handler receives one fully reassembled message body.
type Handler func(buf []byte)

// Assembler buffers fragments belonging to one in-flight message and
// delivers the concatenated result to Handler once the END fragment
// arrives. It is not safe for concurrent use — each poller owns one
// assembler over one subscription, per spec.md §4.7 ("every poller holds
// a fragment-assembler over its subscription").
type Assembler struct {
	handler    Handler
	buf        []byte
	assembling bool
}

// New creates an assembler that calls handler with each reassembled
// message.
func New(handler Handler) *Assembler {
	return &Assembler{handler: handler}
}

// OnFragment feeds one fragment to the assembler. An unfragmented
// message (both flags set) is delivered immediately without buffering,
// the same fast path Aeron's assembler takes.
func (a *Assembler) OnFragment(data []byte, flags Flags) error {
	const op = "fragment.Assembler.OnFragment"

	if flags == FlagUnfragmented {
		a.handler(data)
		return nil
	}

	if flags.begin() {
		a.buf = append(a.buf[:0], data...)
		a.assembling = true
	} else {
		if !a.assembling {
			return tperr.New(tperr.Invalid, op, "continuation fragment with no BEGIN in progress")
		}
		a.buf = append(a.buf, data...)
	}

	if flags.end() {
		a.assembling = false
		out := make([]byte, len(a.buf))
		copy(out, a.buf)
		a.handler(out)
	}
	return nil
}

// Reset discards any partially assembled message, used when closing a
// poller mid-message (spec.md §4.4 "once a response is received ... the
// fragment assembler is closed").
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.assembling = false
}
