package conform

import (
	"encoding/binary"
	"fmt"
)

// Record sizes of the fixed binary layout used by stream transports.
const (
	CommandRecordSize = 8
	ReplyRecordSize   = 56
)

// MarshalBinary encodes the command as an 8-byte little-endian record:
// tag (int8), 3 bytes padding, value (int32). Auto is not encoded; the
// Driver resolves it to a concrete byte count before sending.
func (c Command) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CommandRecordSize)
	buf[0] = byte(c.Tag)
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.Value))
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. Undeclared tags
// are preserved so that invalid commands survive a round trip.
func (c *Command) UnmarshalBinary(data []byte) error {
	if len(data) != CommandRecordSize {
		return fmt.Errorf("command record: want %d bytes, got %d", CommandRecordSize, len(data))
	}
	c.Tag = CommandTag(int8(data[0]))
	c.Value = int32(binary.LittleEndian.Uint32(data[4:]))
	c.Auto = false
	return nil
}

// MarshalBinary encodes the reply as a 56-byte little-endian record.
func (r Reply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ReplyRecordSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(r.Status))
	le.PutUint32(buf[4:], uint32(r.FMQByteCount))
	le.PutUint64(buf[8:], uint64(r.Observable.Frames))
	le.PutUint64(buf[16:], uint64(r.Observable.TimeNs))
	le.PutUint64(buf[24:], uint64(r.Hardware.Frames))
	le.PutUint64(buf[32:], uint64(r.Hardware.TimeNs))
	le.PutUint32(buf[40:], uint32(r.LatencyMs))
	le.PutUint32(buf[44:], uint32(r.XrunFrames))
	buf[48] = byte(r.State)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. The state byte
// is copied verbatim; validation is the Driver's job.
func (r *Reply) UnmarshalBinary(data []byte) error {
	if len(data) != ReplyRecordSize {
		return fmt.Errorf("reply record: want %d bytes, got %d", ReplyRecordSize, len(data))
	}
	le := binary.LittleEndian
	r.Status = Status(int32(le.Uint32(data[0:])))
	r.FMQByteCount = int32(le.Uint32(data[4:]))
	r.Observable.Frames = int64(le.Uint64(data[8:]))
	r.Observable.TimeNs = int64(le.Uint64(data[16:]))
	r.Hardware.Frames = int64(le.Uint64(data[24:]))
	r.Hardware.TimeNs = int64(le.Uint64(data[32:]))
	r.LatencyMs = int32(le.Uint32(data[40:]))
	r.XrunFrames = int32(le.Uint32(data[44:]))
	r.State = State(int8(data[48]))
	return nil
}
