// Package wire - Fixed-layout detection datagram shared by the relay and its consumers.
//
// Every field is an unsigned 32-bit big-endian integer except the timestamp,
// which is 64 bits:
//
//	magic            u32   0x1519B0B4
//	frame_number     u32
//	timestamp_us     u64   microseconds since the Unix epoch
//	object[20]       type, x, y, width, height, probability (u32 each)
//
// Normalized floats are carried in fixed point with a scale of math.MaxInt32.
package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/pkg/errors"
)

const (
	// Magic identifies a detection datagram.
	Magic uint32 = 0x1519B0B4

	headerSize = 4 + 4 + 8
	recordSize = 6 * 4

	// DatagramSize is the exact length of every encoded datagram.
	DatagramSize = headerSize + models.MaxObjects*recordSize

	// DefaultPort is the operator console's listening port.
	DefaultPort = 5810

	fixedScale = math.MaxInt32
)

// ErrMalformed is returned when a buffer is not a detection datagram.
var ErrMalformed = errors.New("malformed datagram")

// Datagram is the decoded form of one frame's detections.
type Datagram struct {
	Frame     uint32        `json:"frame"`
	Timestamp uint64        `json:"timestamp_us"`
	Objects   models.Ranked `json:"-"`
}

// Time returns the capture timestamp.
func (d *Datagram) Time() time.Time {
	return time.UnixMicro(int64(d.Timestamp))
}

// MarshalBinary encodes d into a new DatagramSize buffer.
func (d *Datagram) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, DatagramSize))
}

// AppendBinary appends the encoding of d to b. Records are written in list
// order up to the first ObjectNone; the remaining records are zero.
func (d *Datagram) AppendBinary(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, Magic)
	b = binary.BigEndian.AppendUint32(b, d.Frame)
	b = binary.BigEndian.AppendUint64(b, d.Timestamp)

	n := d.Objects.Len()
	for i := 0; i < n; i++ {
		obj := &d.Objects[i]
		b = binary.BigEndian.AppendUint32(b, uint32(obj.Type))
		b = binary.BigEndian.AppendUint32(b, ToFixed(obj.X))
		b = binary.BigEndian.AppendUint32(b, ToFixed(obj.Y))
		b = binary.BigEndian.AppendUint32(b, ToFixed(obj.Width))
		b = binary.BigEndian.AppendUint32(b, ToFixed(obj.Height))
		b = binary.BigEndian.AppendUint32(b, ToFixed(obj.Probability))
	}
	for i := n; i < models.MaxObjects; i++ {
		b = append(b, make([]byte, recordSize)...)
	}
	return b, nil
}

// UnmarshalBinary decodes buf into d. It never panics on arbitrary input.
func (d *Datagram) UnmarshalBinary(buf []byte) error {
	if len(buf) != DatagramSize {
		return errors.Wrapf(ErrMalformed, "got %d bytes, want %d", len(buf), DatagramSize)
	}
	if magic := binary.BigEndian.Uint32(buf); magic != Magic {
		return errors.Wrapf(ErrMalformed, "bad magic 0x%08x", magic)
	}

	d.Frame = binary.BigEndian.Uint32(buf[4:])
	d.Timestamp = binary.BigEndian.Uint64(buf[8:])
	d.Objects = models.Ranked{}

	rec := buf[headerSize:]
	for i := 0; i < models.MaxObjects; i++ {
		r := rec[i*recordSize : (i+1)*recordSize]
		typ := models.ObjectType(binary.BigEndian.Uint32(r))
		if typ == models.ObjectNone {
			break
		}
		d.Objects[i] = models.Object{
			Type:        typ,
			X:           FromFixed(binary.BigEndian.Uint32(r[4:])),
			Y:           FromFixed(binary.BigEndian.Uint32(r[8:])),
			Width:       FromFixed(binary.BigEndian.Uint32(r[12:])),
			Height:      FromFixed(binary.BigEndian.Uint32(r[16:])),
			Probability: FromFixed(binary.BigEndian.Uint32(r[20:])),
		}
	}
	return nil
}

// Encode builds the datagram for one frame.
//
// Arguments:
//   - frame: The frame sequence number.
//   - ts: The capture time of the frame.
//   - objects: The ranked objects of the frame.
//
// Returns:
//   - []byte: A DatagramSize buffer.
func Encode(frame uint32, ts time.Time, objects models.Ranked) []byte {
	d := Datagram{Frame: frame, Timestamp: uint64(ts.UnixMicro()), Objects: objects}
	b, _ := d.MarshalBinary()
	return b
}

// Decode parses a datagram, failing with ErrMalformed on a size or magic mismatch.
func Decode(buf []byte) (Datagram, error) {
	var d Datagram
	if err := d.UnmarshalBinary(buf); err != nil {
		return Datagram{}, err
	}
	return d, nil
}

// ToFixed converts a value in [0,1] to its fixed-point wire form.
// Values outside [0,1] are not clamped.
func ToFixed(v float32) uint32 {
	return uint32(int64(math.Round(float64(v) * fixedScale)))
}

// FromFixed converts a fixed-point wire value back to a float.
func FromFixed(v uint32) float32 {
	return float32(float64(v) / fixedScale)
}
