// Package protocol implements the fixed-width binary request/response
// format served over the connection layer.
//
// All values are little-endian with no padding.
//
//	request  (13 bytes): f64 timestamp | u8 mode | i32 observer
//	header   ( 9 bytes): f64 timestamp | u8 status
//	record   (108 bytes): i32 id | 3xf64 position | 3xf64 velocity |
//	                      4xf64 quaternion (x, y, z, w) | 3xf64 angular velocity
//
// A response is a header followed by one record per catalog body whose
// state was available, in catalog order.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
)

// Wire sizes in bytes.
const (
	RequestSize = 13
	HeaderSize  = 9
	RecordSize  = 4 + (3+3+4+3)*8
)

// ErrRequestSize is returned when a buffer is not exactly RequestSize bytes.
var ErrRequestSize = errors.New("protocol: request must be 13 bytes")

// Mode selects the aberration correction of a request.
type Mode byte

const (
	ModeInstantaneous Mode = 'i'
	ModeLightTime     Mode = 'l'
)

// Valid reports whether m is a recognised mode.
func (m Mode) Valid() bool { return m == ModeInstantaneous || m == ModeLightTime }

func (m Mode) String() string {
	switch m {
	case ModeInstantaneous:
		return "instantaneous"
	case ModeLightTime:
		return "light-time"
	default:
		return fmt.Sprintf("invalid(0x%02X)", byte(m))
	}
}

// Status is the second header field of a response.
type Status byte

const (
	StatusInstantaneous      Status = 'i'
	StatusLightTime          Status = 'l'
	StatusError              Status = 'E'
	StatusInstantaneousError Status = 'I'
	StatusLightTimeError     Status = 'L'
)

// OK reports whether s denotes a successful response.
func (s Status) OK() bool { return s == StatusInstantaneous || s == StatusLightTime }

func (s Status) String() string {
	switch s {
	case StatusInstantaneous:
		return "instantaneous_ok"
	case StatusLightTime:
		return "light_time_ok"
	case StatusError:
		return "error"
	case StatusInstantaneousError:
		return "instantaneous_error"
	case StatusLightTimeError:
		return "light_time_error"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(s))
	}
}

func successStatus(m Mode) Status {
	if m == ModeLightTime {
		return StatusLightTime
	}
	return StatusInstantaneous
}

func errorStatus(m Mode) Status {
	if m == ModeLightTime {
		return StatusLightTimeError
	}
	return StatusInstantaneousError
}

// Request is a decoded ephemeris query.
type Request struct {
	Timestamp float64
	Mode      Mode
	Observer  int32
}

// ParseRequest decodes a 13-byte request.
func ParseRequest(b []byte) (Request, error) {
	if len(b) != RequestSize {
		return Request{}, fmt.Errorf("%w: got %d", ErrRequestSize, len(b))
	}
	return Request{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		Mode:      Mode(b[8]),
		Observer:  int32(binary.LittleEndian.Uint32(b[9:13])),
	}, nil
}

// EncodeRequest encodes r in wire form.
func EncodeRequest(r Request) []byte {
	b := make([]byte, 0, RequestSize)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.Timestamp))
	b = append(b, byte(r.Mode))
	return binary.LittleEndian.AppendUint32(b, uint32(r.Observer))
}

func appendHeader(b []byte, ts float64, s Status) []byte {
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(ts))
	return append(b, byte(s))
}

func appendFloats(b []byte, vals ...float64) []byte {
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// AppendRecord appends the wire form of one body's state to b.
func AppendRecord(b []byte, id int32, ms ephemeris.MotionState) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(id))
	b = appendFloats(b, ms.Position[:]...)
	b = appendFloats(b, ms.Velocity[:]...)
	b = appendFloats(b, ms.Orientation[:]...)
	return appendFloats(b, ms.AngularVelocity[:]...)
}

// Record is one decoded per-body entry of a response.
type Record struct {
	ID    int32
	State ephemeris.MotionState
}

// Response is a decoded response.
type Response struct {
	Timestamp float64
	Status    Status
	Records   []Record
}

// DecodeResponse parses a response produced by Handle.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) < HeaderSize {
		return Response{}, fmt.Errorf("protocol: response of %d bytes is shorter than the header", len(b))
	}
	if (len(b)-HeaderSize)%RecordSize != 0 {
		return Response{}, fmt.Errorf("protocol: data section of %d bytes is not a whole number of records", len(b)-HeaderSize)
	}
	resp := Response{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		Status:    Status(b[8]),
	}
	for off := HeaderSize; off < len(b); off += RecordSize {
		rec := b[off : off+RecordSize]
		r := Record{ID: int32(binary.LittleEndian.Uint32(rec[0:4]))}
		f := func(i int) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(rec[4+i*8:]))
		}
		for i := 0; i < 3; i++ {
			r.State.Position[i] = f(i)
			r.State.Velocity[i] = f(3 + i)
			r.State.AngularVelocity[i] = f(10 + i)
		}
		for i := 0; i < 4; i++ {
			r.State.Orientation[i] = f(6 + i)
		}
		resp.Records = append(resp.Records, r)
	}
	return resp, nil
}
