package conform

// Direction is the capability trait that separates capture from playback.
//
// The Driver is written once and consults Direction for the handful of
// decisions that differ between the two:
//   - Output: burst payload is written to the data queue before the command
//   - Input: burst payload is produced by the session and read after the reply
type Direction struct {
	Input bool
}

var (
	// Output is the playback direction (test writes, session consumes).
	Output = Direction{Input: false}

	// Input is the capture direction (session produces, test reads).
	Input = Direction{Input: true}
)

// IsInput reports whether the session produces data.
func (d Direction) IsInput() bool { return d.Input }

// WritesBeforeCommand reports whether burst data must be queued before the
// burst command is sent.
func (d Direction) WritesBeforeCommand() bool { return !d.Input }

// DrainsResidual reports whether data left in the queue after a reply belongs
// to the test and must be read out to keep the queue synchronized.
func (d Direction) DrainsResidual() bool { return d.Input }

func (d Direction) String() string {
	if d.Input {
		return "input"
	}
	return "output"
}

// Descriptor is the metadata returned when a session is opened.
//
// Scenario code uses it to decide whether a test applies and how large the
// bursts may be; the Driver only needs FrameSizeBytes and Direction.
type Descriptor struct {
	// FrameSizeBytes is the size of one audio frame in the data queue.
	FrameSizeBytes int

	// BufferFrames is the data queue capacity in frames.
	BufferFrames int

	// Direction tells whether the session captures or plays back.
	Direction Direction

	// Async is true when bursts and drains complete through notifications
	// (TRANSFERRING/DRAINING states) instead of synchronously.
	Async bool

	// PassThrough is true for devices that legitimately never advance the
	// observable position counter.
	PassThrough bool

	// HasDataQueue is false when the session transfers data through a
	// file-descriptor style path rather than a shared queue.
	HasDataQueue bool
}

// BufferBytes returns the data queue capacity in bytes.
func (d Descriptor) BufferBytes() int {
	return d.FrameSizeBytes * d.BufferFrames
}
