// Package wire implements the schema-tagged, block-length-versioned wire
// codec spec.md treats as an opaque external concern (§1, §9 "wrap the
// generated encoder/decoder behind one module boundary"). There is no
// SBE/Cap'n Proto/protobuf-style schema compiler anywhere in the example
// pack, so this is a hand-rolled binary codec over encoding/binary,
// following the same "every message starts with a fixed header" shape
// the spec calls out in §6.
package wire

import (
	"encoding/binary"

	"github.com/tensorpool/tensorpool/tperr"
)

// SchemaID identifies the tensorpool wire schema family.
const SchemaID uint16 = 0x5450 // "TP"

// MaxSupportedVersion is the highest schema version this codec decodes.
const MaxSupportedVersion uint16 = 1

// HeaderBytes is the fixed size of the message header.
const HeaderBytes = 8

// TemplateID enumerates every wire message kind, per spec.md §6.
type TemplateID uint16

const (
	TemplateAttachRequest TemplateID = iota + 1
	TemplateAttachResponse
	TemplateDetachRequest
	TemplateDetachResponse
	TemplateLeaseKeepalive
	TemplateLeaseRevoked
	TemplateDriverShutdown
	TemplateShmPoolAnnounce
	TemplateConsumerHello
	TemplateConsumerConfig
	TemplateFrameDescriptor
	TemplateFrameProgress
	TemplateQosProducer
	TemplateQosConsumer
	TemplateDataSourceAnnounce
	TemplateDataSourceMeta
	TemplateSequenceMergeMapAnnounce
	TemplateSequenceMergeMapRequest
	TemplateTimestampMergeMapAnnounce
	TemplateTimestampMergeMapRequest
	TemplateTraceLinkSet
)

// Header is the 8-byte prefix on every encoded message.
type Header struct {
	SchemaID    uint16
	TemplateID  TemplateID
	BlockLength uint16
	Version     uint16
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:], h.SchemaID)
	binary.LittleEndian.PutUint16(buf[2:], uint16(h.TemplateID))
	binary.LittleEndian.PutUint16(buf[4:], h.BlockLength)
	binary.LittleEndian.PutUint16(buf[6:], h.Version)
}

func getHeader(buf []byte) Header {
	return Header{
		SchemaID:    binary.LittleEndian.Uint16(buf[0:]),
		TemplateID:  TemplateID(binary.LittleEndian.Uint16(buf[2:])),
		BlockLength: binary.LittleEndian.Uint16(buf[4:]),
		Version:     binary.LittleEndian.Uint16(buf[6:]),
	}
}

// Status is the tri-state decode-layer result spec.md §7 requires:
// 0 = decoded, 1 = not our schema, <0 = invalid.
type Status int

const (
	StatusDecoded Status = 0
	StatusNotOurs Status = 1
	StatusInvalid Status = -1
)

// Message is any decoded wire message; it implements templateID and the
// body codec, and Encode wraps the body with the schema header.
type Message interface {
	templateID() TemplateID
	marshalBody() []byte
}

// Encode wraps a message body with the schema header and returns the full
// wire frame.
func Encode(msg Message) []byte {
	body := msg.marshalBody()
	out := make([]byte, HeaderBytes+len(body))
	putHeader(out, Header{
		SchemaID:    SchemaID,
		TemplateID:  msg.templateID(),
		BlockLength: uint16(len(body)),
		Version:     MaxSupportedVersion,
	})
	copy(out[HeaderBytes:], body)
	return out
}

// Decode parses a wire frame's header and, if it is ours and at a
// supported version, decodes the body. Unknown template ids or versions
// beyond MaxSupportedVersion are reported as StatusInvalid per spec.md
// §4.8 ("logged at WARN and dropped" is the caller's job, not the
// codec's); frames belonging to a different schema family are
// StatusNotOurs so a shared bus can be multiplexed by several codecs.
func Decode(frame []byte) (Message, Status, error) {
	const op = "wire.Decode"

	if len(frame) < HeaderBytes {
		return nil, StatusInvalid, tperr.New(tperr.Invalid, op, "frame shorter than header (%d bytes)", len(frame))
	}
	h := getHeader(frame)
	if h.SchemaID != SchemaID {
		return nil, StatusNotOurs, nil
	}
	if h.Version > MaxSupportedVersion {
		return nil, StatusInvalid, tperr.New(tperr.Invalid, op, "schema version %d exceeds max supported %d", h.Version, MaxSupportedVersion)
	}
	body := frame[HeaderBytes:]
	if len(body) < int(h.BlockLength) {
		return nil, StatusInvalid, tperr.New(tperr.Invalid, op, "body shorter than declared block length")
	}
	body = body[:h.BlockLength]

	decodeFn, ok := decoders[h.TemplateID]
	if !ok {
		return nil, StatusInvalid, tperr.New(tperr.Invalid, op, "unknown template id %d", h.TemplateID)
	}
	msg, err := decodeFn(body)
	if err != nil {
		return nil, StatusInvalid, err
	}
	return msg, StatusDecoded, nil
}

var decoders = map[TemplateID]func([]byte) (Message, error){}

func registerDecoder(id TemplateID, fn func([]byte) (Message, error)) {
	decoders[id] = fn
}
