package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/streamcheck/conform"
	"github.com/dshills/streamcheck/queue"
)

// Stream is one open simulated session. Its serving goroutine answers
// commands until Close, a transport failure, or halReservedExit with the
// configured cookie.
type Stream struct {
	cfg     Config
	table   transitions
	end     queue.SessionEnd
	data    *queue.Ring
	channel conform.Channel
	cb      conform.EventCallback
	log     zerolog.Logger
	opened  time.Time

	cancel context.CancelFunc
	done   chan struct{}
	closer func()

	mu          sync.Mutex
	state       conform.State
	frames      int64
	held        int64
	inputTail   int
	gen         uint64
	timer       *time.Timer
	drainNotify bool
	nextByte    byte
	resync      bool
	payloadErrs int
	exitErr     error
}

// Open starts a session served over a new in-process channel pair. The
// test side of the pair is available from Channel.
func Open(ctx context.Context, cfg Config, cb conform.EventCallback) (*Stream, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.suggestion(); err != nil {
		return nil, err
	}
	dataBytes := 0
	if !cfg.NoDataQueue {
		dataBytes = cfg.BufferFrames * cfg.FrameSizeBytes
	}
	ch, ep := queue.NewChannelPair(cfg.FrameSizeBytes, dataBytes)
	s := newStream(cfg, ep, ep.Data(), cb)
	s.channel = ch
	s.closer = ep.Close
	s.run(ctx)
	return s, nil
}

// Serve starts a session answering commands from end, e.g. a queue.Wire
// over a socket. data may be nil when the session has no data queue.
func Serve(ctx context.Context, cfg Config, end queue.SessionEnd, data *queue.Ring, cb conform.EventCallback) (*Stream, error) {
	if end == nil {
		return nil, errors.New("session needs a transport")
	}
	cfg = cfg.withDefaults()
	cfg.NoDataQueue = data == nil
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.suggestion(); err != nil {
		return nil, err
	}
	s := newStream(cfg, end, data, cb)
	s.run(ctx)
	return s, nil
}

func newStream(cfg Config, end queue.SessionEnd, data *queue.Ring, cb conform.EventCallback) *Stream {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Stream{
		cfg:    cfg,
		table:  tableFor(cfg.Direction, cfg.Async),
		end:    end,
		data:   data,
		cb:     cb,
		opened: time.Now(),
		done:   make(chan struct{}),
		state:  conform.StateStandby,
		log: logger.With().
			Str("component", "sim").
			Str("direction", cfg.Direction.String()).
			Bool("async", cfg.Async).
			Logger(),
	}
}

func (s *Stream) run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.serve(ctx)
}

// Channel returns the test side of the session transport. It is the zero
// Channel for sessions started with Serve.
func (s *Stream) Channel() conform.Channel {
	return s.channel
}

// Descriptor returns the stream parameters.
func (s *Stream) Descriptor() conform.Descriptor {
	return s.cfg.Descriptor()
}

// State returns the current session state.
func (s *Stream) State() conform.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PayloadErrors counts output bytes that broke the increasing byte sequence
// the conformance driver writes.
func (s *Stream) PayloadErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadErrs
}

// InjectError moves the session to ERROR and reports msg through the event
// callback.
func (s *Stream) InjectError(msg string) {
	s.mu.Lock()
	s.setState(conform.StateError)
	s.mu.Unlock()
	s.log.Warn().Str("reason", msg).Msg("error injected")
	if s.cb != nil {
		s.cb.OnError(msg)
	}
}

// Done is closed when the serving goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why serving stopped, or nil while running and after a clean
// exit.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// Close stops the session and waits for its goroutine.
func (s *Stream) Close() error {
	s.cancel()
	if s.closer != nil {
		s.closer()
	}
	<-s.done
	s.mu.Lock()
	s.stopTimer()
	s.mu.Unlock()
	return nil
}

func (s *Stream) serve(ctx context.Context) {
	defer close(s.done)
	s.log.Debug().Msg("session serving")
	for {
		cmd, err := s.end.ReadCommand(ctx)
		if err != nil {
			s.stop(ctx, err)
			return
		}
		reply, exit := s.handle(cmd)
		if s.cfg.ReplyHook != nil {
			s.cfg.ReplyHook(cmd, &reply)
		}
		if err := s.end.WriteReply(ctx, reply); err != nil {
			s.stop(ctx, err)
			return
		}
		if exit {
			s.log.Debug().Msg("exit requested")
			return
		}
	}
}

func (s *Stream) stop(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
		return
	}
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	s.log.Error().Err(err).Msg("transport failed")
}

// handle applies cmd and builds the reply. exit reports a valid
// halReservedExit.
func (s *Stream) handle(cmd conform.Command) (reply conform.Reply, exit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, transferred := s.apply(cmd)
	if cmd.Tag == conform.TagHalReservedExit && status == conform.StatusOK {
		exit = true
	}
	if status != conform.StatusOK {
		s.log.Debug().Stringer("command", cmd).Stringer("state", s.state).Stringer("status", status).Msg("command rejected")
	}
	return s.reply(status, transferred), exit
}

func (s *Stream) apply(cmd conform.Command) (conform.Status, int32) {
	switch {
	case !cmd.Tag.Known():
		return conform.StatusBadValue, 0
	case cmd.Tag == conform.TagGetStatus:
		return conform.StatusOK, 0
	case cmd.Tag == conform.TagHalReservedExit:
		if cmd.Value != s.cfg.ExitCookie {
			return conform.StatusBadValue, 0
		}
		return conform.StatusOK, 0
	case cmd.Tag == conform.TagBurst && cmd.Value < 0:
		return conform.StatusBadValue, 0
	case cmd.Tag == conform.TagDrain && (cmd.Value < int32(conform.DrainUnspecified) || cmd.Value > int32(conform.DrainEarlyNotify)):
		return conform.StatusBadValue, 0
	}

	from := s.state
	to, ok := s.table.next(from, cmd.Tag)
	if !ok {
		return conform.StatusInvalidOperation, 0
	}

	var transferred int32
	switch cmd.Tag {
	case conform.TagBurst:
		n, err := s.transfer(int(cmd.Value))
		if err != nil {
			s.log.Error().Err(err).Msg("data queue failure")
			return conform.StatusNoInit, 0
		}
		transferred = int32(n)
		frames := int64(n / s.cfg.FrameSizeBytes)
		switch {
		case s.cfg.Direction.IsInput() && from == conform.StateDraining:
			s.inputTail = max(s.inputTail-n, 0)
			s.advance(frames)
			if s.inputTail == 0 {
				to = conform.StateIdle
			}
		case to == conform.StatePaused || to == conform.StateTransferPaused:
			s.held += frames
		default:
			s.advance(frames)
		}
	case conform.TagStart:
		if from == conform.StatePaused || from == conform.StateTransferPaused {
			s.advance(s.held)
			s.held = 0
		}
	case conform.TagFlush:
		s.frames = 0
		s.discard()
	case conform.TagStandby:
		s.discard()
	case conform.TagDrain:
		if s.cfg.Direction.IsInput() {
			s.inputTail = s.cfg.BufferFrames / 4 * s.cfg.FrameSizeBytes
		} else if !s.cfg.Async && !s.cfg.SlowDrain {
			to = conform.StateIdle
		}
		s.drainNotify = conform.DrainMode(cmd.Value) != conform.DrainUnspecified || s.cfg.Async
	}

	s.setState(to)
	s.schedule()
	return conform.StatusOK, transferred
}

// transfer moves burst data: output consumes up to n bytes from the data
// queue, input produces up to n bytes into it.
func (s *Stream) transfer(n int) (int, error) {
	if s.data == nil {
		return n, nil
	}
	if s.cfg.Direction.IsInput() {
		n = min(n, s.data.AvailableToWrite())
		if s.state == conform.StateDraining {
			n = min(n, s.inputTail)
		}
		n -= n % s.cfg.FrameSizeBytes
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = s.nextByte
			s.nextByte++
		}
		return n, s.data.Write(buf)
	}

	n = min(n, s.data.AvailableToRead())
	buf := make([]byte, n)
	if err := s.data.Read(buf); err != nil {
		return 0, err
	}
	if s.resync && n > 0 {
		s.nextByte = buf[0]
		s.resync = false
	}
	for _, b := range buf {
		if b != s.nextByte {
			s.payloadErrs++
		}
		s.nextByte = b + 1
	}
	return n, nil
}

// discard drops held data. The payload sequence restarts from whatever the
// driver writes next.
func (s *Stream) discard() {
	s.held = 0
	if s.data != nil {
		s.data.Reset()
	}
	s.resync = true
}

func (s *Stream) advance(frames int64) {
	if s.cfg.FreezePosition {
		return
	}
	s.frames += frames
}

func (s *Stream) setState(to conform.State) {
	if to != s.state {
		s.log.Debug().Stringer("from", s.state).Stringer("to", to).Msg("state change")
	}
	s.state = to
	s.gen++
	s.stopTimer()
}

func (s *Stream) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// schedule arms completion of the current transient state: TRANSFERRING
// completes to ACTIVE, output DRAINING completes to IDLE. Paused states
// leave nothing armed; resuming re-arms.
func (s *Stream) schedule() {
	var to conform.State
	var notify func()
	switch {
	case s.state == conform.StateTransferring:
		to = conform.StateActive
		if s.cb != nil {
			notify = s.cb.OnTransferReady
		}
	case s.state == conform.StateDraining && !s.cfg.Direction.IsInput():
		to = conform.StateIdle
		if s.cb != nil && s.drainNotify {
			notify = s.cb.OnDrainReady
		}
	default:
		return
	}
	if s.cfg.SuppressNotifications {
		notify = nil
	}

	gen := s.gen
	s.timer = time.AfterFunc(s.cfg.NotifyDelay, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.setState(to)
		s.mu.Unlock()
		if notify != nil {
			notify()
		}
	})
}

func (s *Stream) reply(status conform.Status, transferred int32) conform.Reply {
	now := time.Since(s.opened).Nanoseconds()
	pos := conform.Position{Frames: s.frames, TimeNs: now}
	return conform.Reply{
		Status:       status,
		FMQByteCount: transferred,
		Observable:   pos,
		Hardware:     pos,
		LatencyMs:    s.cfg.LatencyMs,
		State:        s.state,
	}
}

// String describes the session for logs and test failures.
func (s *Stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("sim(%s async=%t state=%s frames=%d)", s.cfg.Direction, s.cfg.Async, s.state, s.frames)
}
