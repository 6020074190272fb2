// Package snapshot implements the binary wire format used to hand
// playback.Snapshot values to an out-of-process renderer. Integers are QUIC
// variable-length integers, signed values are zigzag encoded and floats are
// IEEE 754 big-endian.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/internal/playback"
	"github.com/zsiec/blackbox/media"
)

// MsgSnapshot is the message type ID of a snapshot message.
const MsgSnapshot uint64 = 0x10

// Version is the payload layout version written by Encode.
const Version byte = 1

// MaxMessageSize bounds the payload length accepted by Read.
const MaxMessageSize = 1 << 20

// Sensor presence flags.
const (
	flagGPS           = 1 << 0
	flagGPSSpeed      = 1 << 1
	flagGPSAccuracy   = 1 << 2
	flagGPSSatellites = 1 << 3
	flagAccel         = 1 << 4
)

// Write writes s as a single framed message.
// Wire format: [message_type (varint)] [payload_length (varint)] [payload].
func Write(w io.Writer, s playback.Snapshot) error {
	payload, err := Encode(s)
	if err != nil {
		return err
	}
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	buf := make([]byte, 0, len(payload)+16)
	buf = quicvarint.Append(buf, MsgSnapshot)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	buf = append(buf, payload...)

	_, err = w.Write(buf)
	return err
}

// Read reads one framed snapshot message.
func Read(r io.Reader) (playback.Snapshot, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}

	msgType, err := quicvarint.Read(br)
	if err != nil {
		return playback.Snapshot{}, fmt.Errorf("read message type: %w", err)
	}
	if msgType != MsgSnapshot {
		return playback.Snapshot{}, fmt.Errorf("%w: 0x%x", ErrUnknownMessage, msgType)
	}
	length, err := quicvarint.Read(br)
	if err != nil {
		return playback.Snapshot{}, fmt.Errorf("read message length: %w", err)
	}
	if length > MaxMessageSize {
		return playback.Snapshot{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return playback.Snapshot{}, fmt.Errorf("read message payload: %w", err)
	}
	return Decode(payload)
}

// Encode serializes s into a snapshot payload.
func Encode(s playback.Snapshot) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 128+48*len(s.Channels))}

	e.putByte(Version)
	e.bytes(s.Session[:])
	e.bytes(s.File[:])
	e.uvarint("state", uint64(s.State))
	e.duration(s.CurrentTime)
	e.duration(s.Duration)
	e.float(s.Speed)
	e.putBool(s.AllReady)

	e.uvarint("num_channels", uint64(len(s.Channels)))
	for _, cs := range s.Channels {
		e.uvarint("position", uint64(cs.Position))
		e.uvarint("buffer_current", uint64(max(cs.Buffer.Current, 0)))
		e.uvarint("buffer_capacity", uint64(max(cs.Buffer.Capacity, 0)))
		e.uvarint("reason", uint64(cs.Reason))
		e.duration(cs.Drift)
		e.uvarint("frame_seq", cs.FrameSeq)
		e.duration(cs.FrameTime)
		e.uvarint("recoveries", uint64(max(cs.Recoveries, 0)))
	}

	sv := s.Sensors
	e.duration(sv.Elapsed)
	var flags byte
	if g := sv.GPS; g != nil {
		flags |= flagGPS
		if g.Speed != nil {
			flags |= flagGPSSpeed
		}
		if g.Accuracy != nil {
			flags |= flagGPSAccuracy
		}
		if g.Satellites != nil {
			flags |= flagGPSSatellites
		}
	}
	if sv.Acceleration != nil {
		flags |= flagAccel
	}
	e.putByte(flags)
	if g := sv.GPS; g != nil {
		e.putTime(g.Time)
		e.float(g.Latitude)
		e.float(g.Longitude)
		if g.Speed != nil {
			e.float(*g.Speed)
		}
		if g.Accuracy != nil {
			e.float(*g.Accuracy)
		}
		if g.Satellites != nil {
			e.signed(int64(*g.Satellites))
		}
	}
	if a := sv.Acceleration; a != nil {
		e.putTime(a.Time)
		e.float(a.X)
		e.float(a.Y)
		e.float(a.Z)
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Decode parses a snapshot payload produced by Encode.
func Decode(data []byte) (playback.Snapshot, error) {
	r := newBufReader(data)
	var s playback.Snapshot

	version, err := r.readByte()
	if err != nil {
		return s, &ParseError{Field: "version", Err: err}
	}
	if version != Version {
		return s, &ParseError{Field: "version", Err: fmt.Errorf("%w: %d", ErrUnknownVersion, version)}
	}
	if s.Session, err = r.readUUID(); err != nil {
		return s, &ParseError{Field: "session", Err: err}
	}
	if s.File, err = r.readUUID(); err != nil {
		return s, &ParseError{Field: "file", Err: err}
	}
	state, err := r.readVarint()
	if err != nil {
		return s, &ParseError{Field: "state", Err: err}
	}
	s.State = media.PlaybackState(state)
	if s.CurrentTime, err = r.readDuration(); err != nil {
		return s, &ParseError{Field: "current_time", Err: err}
	}
	if s.Duration, err = r.readDuration(); err != nil {
		return s, &ParseError{Field: "duration", Err: err}
	}
	if s.Speed, err = r.readFloat(); err != nil {
		return s, &ParseError{Field: "speed", Err: err}
	}
	ready, err := r.readByte()
	if err != nil {
		return s, &ParseError{Field: "all_ready", Err: err}
	}
	s.AllReady = ready != 0

	n, err := r.readVarint()
	if err != nil {
		return s, &ParseError{Field: "num_channels", Err: err}
	}
	// Each channel needs at least eight bytes; reject counts the payload
	// cannot hold before allocating.
	if n > uint64(r.remaining()/8) {
		return s, &ParseError{Field: "num_channels", Err: io.ErrUnexpectedEOF}
	}
	s.Channels = make([]playback.ChannelSnapshot, 0, n)
	for i := uint64(0); i < n; i++ {
		cs, err := r.readChannel()
		if err != nil {
			return s, err
		}
		s.Channels = append(s.Channels, cs)
	}

	if s.Sensors, err = r.readSensors(); err != nil {
		return s, err
	}
	if r.remaining() != 0 {
		return s, ErrTrailingData
	}
	return s, nil
}

func (b *bufReader) readChannel() (playback.ChannelSnapshot, error) {
	var cs playback.ChannelSnapshot

	pos, err := b.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "position", Err: err}
	}
	cs.Position = media.ChannelPosition(pos)
	cur, err := b.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "buffer_current", Err: err}
	}
	capacity, err := b.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "buffer_capacity", Err: err}
	}
	cs.Buffer = media.NewBufferStatus(int(cur), int(capacity))
	reason, err := b.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "reason", Err: err}
	}
	cs.Reason = drift.Reason(reason)
	if cs.Drift, err = b.readDuration(); err != nil {
		return cs, &ParseError{Field: "drift", Err: err}
	}
	if cs.FrameSeq, err = b.readVarint(); err != nil {
		return cs, &ParseError{Field: "frame_seq", Err: err}
	}
	if cs.FrameTime, err = b.readDuration(); err != nil {
		return cs, &ParseError{Field: "frame_time", Err: err}
	}
	rec, err := b.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "recoveries", Err: err}
	}
	cs.Recoveries = int(rec)
	return cs, nil
}

func (b *bufReader) readSensors() (playback.SensorValues, error) {
	var sv playback.SensorValues
	var err error

	if sv.Elapsed, err = b.readDuration(); err != nil {
		return sv, &ParseError{Field: "elapsed", Err: err}
	}
	flags, err := b.readByte()
	if err != nil {
		return sv, &ParseError{Field: "sensor_flags", Err: err}
	}

	if flags&flagGPS != 0 {
		var g media.GPSPoint
		if g.Time, err = b.readTime(); err != nil {
			return sv, &ParseError{Field: "gps_time", Err: err}
		}
		if g.Latitude, err = b.readFloat(); err != nil {
			return sv, &ParseError{Field: "gps_latitude", Err: err}
		}
		if g.Longitude, err = b.readFloat(); err != nil {
			return sv, &ParseError{Field: "gps_longitude", Err: err}
		}
		if flags&flagGPSSpeed != 0 {
			v, err := b.readFloat()
			if err != nil {
				return sv, &ParseError{Field: "gps_speed", Err: err}
			}
			g.Speed = &v
		}
		if flags&flagGPSAccuracy != 0 {
			v, err := b.readFloat()
			if err != nil {
				return sv, &ParseError{Field: "gps_accuracy", Err: err}
			}
			g.Accuracy = &v
		}
		if flags&flagGPSSatellites != 0 {
			v, err := b.readSigned()
			if err != nil {
				return sv, &ParseError{Field: "gps_satellites", Err: err}
			}
			sats := int(v)
			g.Satellites = &sats
		}
		sv.GPS = &g
	}

	if flags&flagAccel != 0 {
		var a media.AccelerationSample
		if a.Time, err = b.readTime(); err != nil {
			return sv, &ParseError{Field: "accel_time", Err: err}
		}
		if a.X, err = b.readFloat(); err != nil {
			return sv, &ParseError{Field: "accel_x", Err: err}
		}
		if a.Y, err = b.readFloat(); err != nil {
			return sv, &ParseError{Field: "accel_y", Err: err}
		}
		if a.Z, err = b.readFloat(); err != nil {
			return sv, &ParseError{Field: "accel_z", Err: err}
		}
		sv.Acceleration = &a
	}
	return sv, nil
}

// encoder appends fields to buf and keeps the first error.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) uvarint(field string, v uint64) {
	if e.err != nil {
		return
	}
	if v > quicvarint.Max {
		e.err = fmt.Errorf("encode %s: %w", field, ErrValueTooLarge)
		return
	}
	e.buf = quicvarint.Append(e.buf, v)
}

func (e *encoder) signed(v int64) {
	e.uvarint("signed", zigzag(v))
}

func (e *encoder) duration(d time.Duration) {
	e.signed(int64(d))
}

func (e *encoder) putTime(t time.Time) {
	e.signed(t.Unix())
	e.uvarint("nanos", uint64(t.Nanosecond()))
}

func (e *encoder) float(f float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

func (e *encoder) putByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) putBool(v bool) {
	if v {
		e.putByte(1)
	} else {
		e.putByte(0)
	}
}

// bytes appends a varint-length-prefixed byte string.
func (e *encoder) bytes(data []byte) {
	e.uvarint("length", uint64(len(data)))
	e.buf = append(e.buf, data...)
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// bufReader wraps a byte slice for sequential varint/byte reading.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) remaining() int { return len(b.data) - b.pos }

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, err
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readSigned() (int64, error) {
	u, err := b.readVarint()
	if err != nil {
		return 0, err
	}
	return unzigzag(u), nil
}

func (b *bufReader) readDuration() (time.Duration, error) {
	v, err := b.readSigned()
	return time.Duration(v), err
}

func (b *bufReader) readTime() (time.Time, error) {
	sec, err := b.readSigned()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := b.readVarint()
	if err != nil {
		return time.Time{}, err
	}
	if nsec >= uint64(time.Second) {
		return time.Time{}, fmt.Errorf("nanoseconds %d out of range", nsec)
	}
	return time.Unix(sec, int64(nsec)).UTC(), nil
}

func (b *bufReader) readFloat() (float64, error) {
	if b.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return math.Float64frombits(v), nil
}

func (b *bufReader) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *bufReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarint()
	if err != nil {
		return nil, err
	}
	if length > uint64(b.remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	end := b.pos + int(length)
	val := b.data[b.pos:end]
	b.pos = end
	return val, nil
}

func (b *bufReader) readUUID() (uuid.UUID, error) {
	raw, err := b.readVarIntBytes()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(raw)
}
