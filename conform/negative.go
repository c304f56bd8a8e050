package conform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/streamcheck/conform/emit"
)

// NegativeDriver sends a fixed command sequence and checks status codes only.
// Every step but the last must answer StatusOK; the last must answer the
// expected final status. It is used to confirm that the session rejects
// illegal commands, e.g. burst while in DRAINING.
//
// Mismatches are collected rather than aborting the run; state and position
// are not checked.
type NegativeDriver struct {
	ch    Channel
	steps []Command
	final Status
	cfg   driverConfig
	log   zerolog.Logger

	next       int
	completed  bool
	mismatches []string
}

// NewNegativeDriver prepares a run over ch. steps must not be empty.
// Auto-sized bursts are sent with a zero byte count, since no data is
// transferred.
func NewNegativeDriver(ch Channel, steps []Command, finalStatus Status, opts ...Option) (*NegativeDriver, error) {
	if len(steps) == 0 {
		return nil, errors.New("negative driver needs at least one command")
	}
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &NegativeDriver{
		ch:    ch,
		steps: append([]Command(nil), steps...),
		final: finalStatus,
		cfg:   cfg,
		log: cfg.logger.With().
			Str("component", "negative_driver").
			Str("run_id", cfg.runID).
			Logger(),
	}, nil
}

// Cycle sends the next command in the sequence.
func (n *NegativeDriver) Cycle(ctx context.Context) (Outcome, error) {
	if n.next >= len(n.steps) {
		return n.finish(Exit, nil)
	}
	cmd := n.steps[n.next]
	if cmd.Auto {
		cmd = Burst(0)
	}
	last := n.next == len(n.steps)-1
	n.next++

	started := time.Now()
	reply, err := exchangeWithTimeout(ctx, n.ch, cmd, n.cfg.commandTimeout)
	if err != nil {
		n.cfg.emitter.Emit(emit.Event{
			RunID:   n.cfg.runID,
			Step:    n.next,
			Trigger: cmd.String(),
			Msg:     emit.MsgTransportFailure,
			Meta:    map[string]interface{}{"error": err.Error()},
		})
		return n.finish(Abort, err)
	}
	n.cfg.metrics.RecordReplyLatency(cmd.Tag, time.Since(started))

	want := StatusOK
	if last {
		want = n.final
	}
	if reply.Status != want {
		msg := fmt.Sprintf("%s: expected status %s, received %s", cmd, want, reply.Status)
		n.mismatches = append(n.mismatches, msg)
		n.cfg.metrics.IncrementViolations(n.cfg.scenario, KindBadStatus)
		n.cfg.emitter.Emit(emit.Event{
			RunID:   n.cfg.runID,
			Step:    n.next,
			Trigger: cmd.String(),
			Msg:     emit.MsgStatusMismatch,
			Meta:    map[string]interface{}{"error": msg, "reply": reply.String()},
		})
		n.log.Warn().Int("step", n.next).Msg(msg)
	}

	if last {
		return n.finish(Exit, nil)
	}
	n.cfg.metrics.RecordCycle(n.cfg.scenario, Continue)
	return Continue, nil
}

// Mismatches returns one message per status mismatch, in sequence order.
func (n *NegativeDriver) Mismatches() []string {
	return append([]string(nil), n.mismatches...)
}

// Succeeded reports whether every command was sent and answered as expected.
func (n *NegativeDriver) Succeeded() bool {
	return n.completed && len(n.mismatches) == 0
}

func (n *NegativeDriver) finish(out Outcome, err error) (Outcome, error) {
	n.completed = out == Exit
	n.cfg.metrics.RecordCycle(n.cfg.scenario, out)
	meta := map[string]interface{}{"steps": n.next, "mismatches": len(n.mismatches)}
	msg := emit.MsgRunExit
	if out == Abort {
		msg = emit.MsgRunAbort
		if err != nil {
			meta["error"] = err.Error()
		}
	}
	n.cfg.emitter.Emit(emit.Event{RunID: n.cfg.runID, Step: n.next, Msg: msg, Meta: meta})
	return out, err
}
