package packet

import (
	"bytes"
	"errors"
)

// ErrNeedMoreBytes is returned by Decoder.Decode when the bytes fed so far
// don't yet hold a complete frame for the current state. The caller should
// Feed more bytes (from the next socket read) and call Decode again; no
// bytes already fed are lost or reprocessed.
var ErrNeedMoreBytes = errors.New("packet: need more bytes")

// decoderState is the framing state machine's two states, mirroring the
// FixedHeader-then-body read in FixedHeader.Unpack/Unpack, but made
// explicit so partial reads can be fed incrementally instead of blocking a
// goroutine on io.Reader.Read for each piece.
type decoderState int

const (
	stateFixedHeader decoderState = iota
	stateBody
)

// Decoder implements the MQTT framing state machine over an accumulating
// byte buffer rather than a blocking io.Reader. One Decoder decodes one
// connection's inbound stream: Feed appends newly-read bytes, and Decode
// advances the state machine as far as the buffered bytes allow, returning
// ErrNeedMoreBytes when it cannot make progress without more input.
//
// The blocking Unpack/FixedHeader.Unpack pair reads a fixed header
// directly off an io.Reader per call and blocks until the full
// RemainingLength has arrived; this type instead holds the partially-read
// frame as explicit state (stateFixedHeader vs. stateBody) so a caller
// driving it across multiple socket reads never blocks mid-packet.
type Decoder struct {
	version           byte
	maximumPacketSize uint32

	state decoderState
	buf   []byte

	fixed     *FixedHeader
	remaining uint32
}

// NewDecoder constructs a Decoder for the given protocol version. A nonzero
// maximumPacketSize enforces the configured cap on (fixed header size +
// RemainingLength): frames that would exceed it are rejected as
// ErrPacketTooLarge as soon as the varint is decoded, before any body bytes
// are consumed.
func NewDecoder(version byte, maximumPacketSize uint32) *Decoder {
	return &Decoder{version: version, maximumPacketSize: maximumPacketSize}
}

// Feed appends newly-read bytes to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Decode advances the state machine as far as possible and returns the next
// fully-framed Packet, or ErrNeedMoreBytes if the buffered bytes don't yet
// cover the current state. Any other error is a malformed-stream condition
// the caller should treat as fatal to the connection, matching the
// blocking Unpack's behavior.
func (d *Decoder) Decode() (Packet, error) {
	for {
		switch d.state {
		case stateFixedHeader:
			if err := d.decodeFixedHeader(); err != nil {
				return nil, err
			}
		case stateBody:
			if uint32(len(d.buf)) < d.remaining {
				return nil, ErrNeedMoreBytes
			}
			body := d.buf[:d.remaining]
			d.buf = d.buf[d.remaining:]
			fixed := d.fixed
			d.fixed, d.remaining = nil, 0
			d.state = stateFixedHeader
			return decodeBody(fixed, bytes.NewBuffer(body))
		}
	}
}

// decodeFixedHeader tries to read one fixed header (type/flags byte plus
// the remaining-length varint) from the buffered bytes, consuming them only
// once the whole header is present. It never returns a decoded Packet
// itself — zero-body kinds like PINGREQ still transition to stateBody and
// are dispatched from there, keeping one code path for per-kind decode.
func (d *Decoder) decodeFixedHeader() error {
	if len(d.buf) < 1 {
		return ErrNeedMoreBytes
	}
	typeAndFlags := d.buf[0]
	kind := typeAndFlags >> 4
	dup := typeAndFlags & 0b00001000 >> 3
	qos := typeAndFlags & 0b00000110 >> 1
	retain := typeAndFlags & 0b00000001
	if err := validateFixedFlags(kind, dup, qos, retain); err != nil {
		return err
	}

	var remaining uint32
	varintLen := 0
	for i := 0; i < 4; i++ {
		if len(d.buf) < 2+i {
			return ErrNeedMoreBytes
		}
		b := d.buf[1+i]
		remaining |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			varintLen = i + 1
			break
		}
		if i == 3 {
			return ErrMalformedVariableInteger
		}
	}

	headerLen := 1 + varintLen
	if d.maximumPacketSize != 0 && uint32(headerLen)+remaining > d.maximumPacketSize {
		d.buf = d.buf[headerLen:]
		return ErrPacketTooLarge
	}

	d.buf = d.buf[headerLen:]
	d.fixed = &FixedHeader{Version: d.version, Kind: kind, Dup: dup, QoS: qos, Retain: retain, RemainingLength: remaining}
	d.remaining = remaining
	d.state = stateBody
	return nil
}
