package conform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/streamcheck/conform/emit"
	"github.com/dshills/streamcheck/conform/store"
)

// Outcome tells the Worker what to do after one Driver iteration.
type Outcome int

const (
	// Continue runs another iteration.
	Continue Outcome = iota
	// Exit stops the loop cleanly.
	Exit
	// Abort stops the loop because the run failed.
	Abort
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Exit:
		return "exit"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Logic is the per-iteration decision function run by a Worker.
//
// Cycle returns Abort with a non-nil error for failures that are not already
// recorded elsewhere (transport failures, rejected replies), and Abort with a
// nil error when the failure is captured in the implementation's own verdict.
type Logic interface {
	Cycle(ctx context.Context) (Outcome, error)
}

// Verdict is what a Driver observed during one run. Read it after
// Worker.Join returns.
type Verdict struct {
	// UnexpectedTransition is empty unless the session reported a state the
	// graph did not allow, or a notification other than the expected one.
	UnexpectedTransition string

	// PositionIncreased is set once the observable position grew.
	PositionIncreased bool

	// PositionRetrograde is set once the observable position shrank outside
	// of an allowed reset.
	PositionRetrograde bool

	// Steps counts exchanges with the session.
	Steps int

	// LastState is the last state accepted by the graph.
	LastState State
}

// Driver is the test oracle: it walks a Cursor, sends each trigger to the
// session, validates the reply and advances the cursor on accepted states.
//
// The Driver holds no scenario knowledge; all legality comes from the graph.
// Writing, reading, draining, pausing, flushing and their notification-driven
// variants are different graphs fed to the same Driver.
//
// One Driver drives exactly one run over one Channel and one Receiver. It is
// confined to the Worker goroutine except for Verdict, which is safe to call
// at any time.
//
// Example:
//
//	g := scenario.WriteGraph(desc)
//	driver, err := conform.NewDriver(conform.NewCursor(g), ch, rx, desc.Direction)
//	if err != nil {
//	    return err
//	}
//	worker := conform.NewWorker(driver)
//	if !worker.Start(ctx) {
//	    return errors.New("worker did not start")
//	}
//	worker.Join()
//	if v := driver.Verdict(); v.UnexpectedTransition != "" || worker.HasError() {
//	    ...
//	}
type Driver struct {
	cursor *Cursor
	ch     Channel
	rx     *Receiver
	dir    Direction
	cfg    driverConfig
	log    zerolog.Logger

	lastState    State
	lastPosition int64
	lastEventSeq int64
	step         int
	payloadSeed  byte
	scratch      []byte

	mu      sync.Mutex
	verdict Verdict
}

// NewDriver binds a driver to cursor, ch and rx.
//
// rx may be nil only if the graph contains no event triggers; a graph that
// waits for a notification without a receiver fails validation here.
func NewDriver(cursor *Cursor, ch Channel, rx *Receiver, dir Direction, opts ...Option) (*Driver, error) {
	if cursor == nil {
		return nil, errors.New("driver needs a cursor")
	}
	if err := cursor.Graph().Validate(); err != nil {
		return nil, err
	}
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if rx == nil && graphWaitsForEvents(cursor.Graph()) {
		return nil, errors.New("graph waits for notifications but no receiver was given")
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cursor: cursor,
		ch:     ch,
		rx:     rx,
		dir:    dir,
		cfg:    cfg,
		log: cfg.logger.With().
			Str("component", "driver").
			Str("run_id", cfg.runID).
			Str("direction", dir.String()).
			Logger(),
	}
	d.reset()
	return d, nil
}

func graphWaitsForEvents(g *Graph) bool {
	for _, n := range g.nodes {
		if len(n.children) == 0 {
			continue
		}
		if _, ok := n.trigger.(Event); ok {
			return true
		}
	}
	return false
}

// Reset rewinds the cursor and clears the verdict so that the same scenario
// can be replayed, e.g. with a different session configuration.
func (d *Driver) Reset() {
	d.cursor.Rewind()
	d.reset()
}

func (d *Driver) reset() {
	d.lastState = d.cursor.CurrentState()
	d.lastPosition = UnknownPosition
	d.step = 0
	if d.rx != nil {
		d.lastEventSeq = d.rx.Seq()
	}
	d.mu.Lock()
	d.verdict = Verdict{LastState: d.lastState}
	d.mu.Unlock()
}

// Verdict returns a snapshot of what the driver has observed so far.
func (d *Driver) Verdict() Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verdict
}

// Cycle performs one iteration: pick the trigger, exchange it with the
// session, validate the reply and advance the cursor.
func (d *Driver) Cycle(ctx context.Context) (Outcome, error) {
	if d.cursor.Done() {
		return d.finish(Exit, nil)
	}
	d.step++

	trigger := d.cursor.NextTrigger()
	cmd, out, err := MatchTrigger(trigger,
		func(c Command) prepared { return prepared{cmd: d.resolve(c)} },
		func(ev Event) prepared { return d.awaitEvent(ctx, ev) },
	).unpack()
	if out != Continue {
		return d.finish(out, err)
	}

	if cmd.Tag == TagBurst && d.dir.WritesBeforeCommand() {
		if err := d.writePayload(int(cmd.Value)); err != nil {
			return d.dataQueueFailure(trigger, err)
		}
	}

	started := time.Now()
	reply, err := exchangeWithTimeout(ctx, d.ch, cmd, d.cfg.commandTimeout)
	elapsed := time.Since(started)
	if err != nil {
		d.emit(trigger, emit.MsgTransportFailure, map[string]interface{}{"error": err.Error()})
		return d.finish(Abort, err)
	}
	d.cfg.metrics.RecordReplyLatency(cmd.Tag, elapsed)
	d.mu.Lock()
	d.verdict.Steps++
	d.mu.Unlock()

	if err := ValidateReply(cmd, reply); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			d.cfg.metrics.IncrementViolations(d.cfg.scenario, perr.Kind)
		}
		d.record(ctx, trigger, reply, false)
		d.emit(trigger, emit.MsgReplyRejected, map[string]interface{}{
			"error": err.Error(),
			"reply": reply.String(),
		})
		return d.finish(Abort, err)
	}

	if !d.cursor.Expects(reply.State) {
		msg := fmt.Sprintf("unexpected transition from %s to %s caused by %s, expected one of %v",
			d.lastState, reply.State, trigger, d.cursor.ExpectedStates())
		d.setUnexpected(msg)
		d.cfg.metrics.IncrementViolations(d.cfg.scenario, KindUnexpectedMove)
		d.record(ctx, trigger, reply, false)
		d.emit(trigger, emit.MsgUnexpectedTransition, map[string]interface{}{
			"from":  d.lastState.String(),
			"to":    reply.State.String(),
			"error": msg,
		})
		return d.finish(Abort, nil)
	}

	from := d.lastState
	d.cursor.Advance(reply.State)
	d.lastState = reply.State
	d.trackPosition(cmd, reply)

	if d.dir.DrainsResidual() {
		if err := d.drainResidual(); err != nil {
			return d.dataQueueFailure(trigger, err)
		}
	}

	d.record(ctx, trigger, reply, true)
	d.emit(trigger, emit.MsgTransition, map[string]interface{}{
		"from":       from.String(),
		"to":         reply.State.String(),
		"bytes":      reply.FMQByteCount,
		"frames":     reply.Observable.Frames,
		"latency_ms": elapsed.Milliseconds(),
	})
	d.log.Debug().
		Int("step", d.step).
		Stringer("trigger", trigger).
		Stringer("from", from).
		Stringer("to", reply.State).
		Int32("bytes", reply.FMQByteCount).
		Msg("transition accepted")
	d.cfg.metrics.RecordCycle(d.cfg.scenario, Continue)
	return Continue, nil
}

// prepared is the command chosen for an iteration, or the reason the
// iteration stops before sending anything.
type prepared struct {
	cmd  Command
	stop Outcome
	err  error
}

func (p prepared) unpack() (Command, Outcome, error) {
	return p.cmd, p.stop, p.err
}

// resolve turns an auto-sized burst into a concrete byte count. Other
// commands are sent as declared.
func (d *Driver) resolve(c Command) Command {
	if c.Tag != TagBurst || !c.Auto {
		return c
	}
	frame := d.ch.FrameSizeBytes
	if d.ch.Data == nil || frame <= 0 {
		return Burst(int32(max(frame, 0)))
	}
	frames := d.ch.Data.AvailableToWrite() / frame
	n := frames - d.cfg.shaveFrames
	if n < 1 {
		n = min(frames, 1)
	}
	return Burst(int32(n * frame))
}

// awaitEvent blocks on the receiver for the expected notification. On
// success the status query replaces the event, since asking is the only way
// to observe the state the notification led to.
func (d *Driver) awaitEvent(ctx context.Context, expected Event) prepared {
	started := time.Now()
	got, seq := d.rx.WaitForEvent(ctx, d.lastEventSeq)
	waited := time.Since(started)
	d.cfg.metrics.RecordEventWait(expected, waited, got == EventNone && ctx.Err() == nil)

	if got == EventNone && ctx.Err() != nil {
		return prepared{stop: Abort, err: ctx.Err()}
	}
	if got != EventNone {
		d.lastEventSeq = seq
	}
	if got != expected {
		msg := fmt.Sprintf("expected event %s in state %s, received %s", expected, d.lastState, got)
		if got == EventNone {
			msg += fmt.Sprintf(" (no notification within %v)", d.rx.Timeout())
			d.emit(expected, emit.MsgEventTimeout, map[string]interface{}{"error": msg, "waited": waited})
		} else {
			d.emit(expected, emit.MsgUnexpectedTransition, map[string]interface{}{"error": msg})
		}
		d.setUnexpected(msg)
		d.cfg.metrics.IncrementViolations(d.cfg.scenario, KindEventMismatch)
		return prepared{stop: Abort}
	}

	d.emit(expected, emit.MsgEventReceived, map[string]interface{}{"seq": seq, "waited": waited})
	return prepared{cmd: GetStatus()}
}

func (d *Driver) dataQueueFailure(trigger Trigger, err error) (Outcome, error) {
	d.cfg.metrics.IncrementViolations(d.cfg.scenario, KindDataQueue)
	d.emit(trigger, emit.MsgTransportFailure, map[string]interface{}{"error": err.Error(), "kind": KindDataQueue})
	return d.finish(Abort, err)
}

// writePayload queues n bytes of strictly increasing data ahead of an
// output burst.
func (d *Driver) writePayload(n int) error {
	if d.ch.Data == nil || n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = d.payloadSeed
		d.payloadSeed++
	}
	if err := d.ch.Data.Write(buf); err != nil {
		return &transportError{op: fmt.Sprintf("write %d bytes of burst data", n), err: err}
	}
	return nil
}

// drainResidual reads whatever the session left in the data queue so that
// the next iteration starts from an empty queue.
func (d *Driver) drainResidual() error {
	if d.ch.Data == nil {
		return nil
	}
	n := d.ch.Data.AvailableToRead()
	if n <= 0 {
		return nil
	}
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	if err := d.ch.Data.Read(d.scratch[:n]); err != nil {
		return &transportError{op: fmt.Sprintf("read %d bytes of residual data", n), err: err}
	}
	return nil
}

func (d *Driver) trackPosition(cmd Command, reply Reply) {
	if !reply.Observable.Known() {
		return
	}
	frames := reply.Observable.Frames
	prev := d.lastPosition
	d.lastPosition = frames
	if prev == UnknownPosition {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case frames > prev:
		d.verdict.PositionIncreased = true
	case frames < prev:
		if frames == 0 && d.cfg.resetOn[cmd.Tag] {
			d.log.Debug().Int64("from", prev).Stringer("command", cmd).Msg("position reset accepted")
			return
		}
		d.verdict.PositionRetrograde = true
		d.log.Warn().Int64("from", prev).Int64("to", frames).Stringer("command", cmd).Msg("position went backwards")
	}
}

func (d *Driver) setUnexpected(msg string) {
	d.mu.Lock()
	d.verdict.UnexpectedTransition = msg
	d.mu.Unlock()
	d.log.Warn().Int("step", d.step).Msg(msg)
}

func (d *Driver) finish(out Outcome, err error) (Outcome, error) {
	d.mu.Lock()
	d.verdict.LastState = d.lastState
	d.mu.Unlock()
	d.cfg.metrics.RecordCycle(d.cfg.scenario, out)

	meta := map[string]interface{}{"steps": d.step, "state": d.lastState.String()}
	msg := emit.MsgRunExit
	if out == Abort {
		msg = emit.MsgRunAbort
		if err != nil {
			meta["error"] = err.Error()
		}
		d.log.Info().Err(err).Int("step", d.step).Msg("run aborted")
	}
	d.cfg.emitter.Emit(emit.Event{RunID: d.cfg.runID, Msg: msg, Meta: meta})
	return out, err
}

func (d *Driver) emit(trigger Trigger, msg string, meta map[string]interface{}) {
	d.cfg.emitter.Emit(emit.Event{
		RunID:   d.cfg.runID,
		Step:    d.step,
		Trigger: trigger.String(),
		Msg:     msg,
		Meta:    meta,
	})
}

func (d *Driver) record(ctx context.Context, trigger Trigger, reply Reply, accepted bool) {
	if d.cfg.store == nil {
		return
	}
	rec := store.TransitionRecord{
		Step:       d.step,
		Trigger:    trigger.String(),
		From:       d.lastState.String(),
		To:         reply.State.String(),
		Status:     int32(reply.Status),
		ByteCount:  reply.FMQByteCount,
		Frames:     reply.Observable.Frames,
		LatencyMs:  reply.LatencyMs,
		XrunFrames: reply.XrunFrames,
		Accepted:   accepted,
	}
	if err := d.cfg.store.SaveTransition(ctx, d.cfg.runID, rec); err != nil {
		d.log.Warn().Err(err).Int("step", d.step).Msg("failed to record transition")
	}
}

// ValidateReply applies the checks every reply must pass regardless of the
// scenario. It returns a *ProtocolError describing the first failed check.
func ValidateReply(cmd Command, r Reply) error {
	fail := func(kind, format string, args ...interface{}) error {
		return &ProtocolError{Kind: kind, Command: cmd, Reply: r, Message: fmt.Sprintf(format, args...)}
	}

	if !r.Status.Known() {
		return fail(KindUnknownStatus, "undeclared status code %d", int32(r.Status))
	}
	if r.Status != StatusOK {
		return fail(KindBadStatus, "received error status %s", r.Status)
	}
	if r.FMQByteCount < 0 {
		return fail(KindByteCount, "negative byte count %d", r.FMQByteCount)
	}
	if cmd.Tag == TagBurst && r.FMQByteCount > cmd.Value {
		return fail(KindByteCount, "byte count %d exceeds requested %d", r.FMQByteCount, cmd.Value)
	}
	if r.LatencyMs < 0 && r.LatencyMs != LatencyUnknown {
		return fail(KindLatency, "invalid latency %d ms", r.LatencyMs)
	}
	if r.XrunFrames < 0 {
		return fail(KindXrun, "negative xrun frame count %d", r.XrunFrames)
	}
	if err := validatePosition(r.Observable); err != "" {
		return fail(KindPosition, "observable %s", err)
	}
	if err := validatePosition(r.Hardware); err != "" {
		return fail(KindPosition, "hardware %s", err)
	}
	if !r.State.Valid() {
		return fail(KindInvalidState, "undeclared state %d", int8(r.State))
	}
	return nil
}

func validatePosition(p Position) string {
	if p.Frames < 0 && p.Frames != UnknownPosition {
		return fmt.Sprintf("position frames %d invalid", p.Frames)
	}
	if p.TimeNs < 0 && p.TimeNs != UnknownPosition {
		return fmt.Sprintf("position time %d invalid", p.TimeNs)
	}
	return ""
}
