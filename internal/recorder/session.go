// Package recorder is the capture-side controller: it feeds captured audio to
// the live relay and, in parallel, re-transcribes overlapping chunks of the
// rolling window through the polling endpoint.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// ChunkStatus is the transient status of the polling path.
type ChunkStatus string

const (
	ChunkStatusNone         ChunkStatus = ""
	ChunkStatusTranscribing ChunkStatus = "transcribing"
	ChunkStatusTranscribed  ChunkStatus = "transcribed"
	ChunkStatusFailed       ChunkStatus = "failed"
)

// CaptureDevice produces audio fragments. Open acquires the device, Start
// begins production and Close stops production, closes the fragment channel
// and releases the device.
type CaptureDevice interface {
	Open(format entities.AudioFormat) error
	Start(slice time.Duration) (<-chan entities.AudioFragment, error)
	Close() error
}

// Config holds the timing and format of a recording session.
type Config struct {
	Format             entities.AudioFormat
	SliceInterval      time.Duration
	TranscribeInterval time.Duration
	Overlap            time.Duration
	FlushGrace         time.Duration
	ResetOnStart       bool
}

// TickSource returns a tick channel for the given interval and a stop func.
type TickSource func(interval time.Duration) (<-chan time.Time, func())

func realTicks(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithStateObserver is called on every lifecycle transition.
func WithStateObserver(fn func(from, to State)) Option {
	return func(r *Recorder) { r.stateObserver = fn }
}

// WithTranscriptObserver is called after every appended segment with the
// full transcript text.
func WithTranscriptObserver(fn func(seg Segment, full string)) Option {
	return func(r *Recorder) { r.transcriptObserver = fn }
}

// WithTickSource replaces the scheduling ticker.
func WithTickSource(ts TickSource) Option {
	return func(r *Recorder) { r.ticks = ts }
}

// Recorder owns at most one recording session at a time.
type Recorder struct {
	cfg         Config
	device      CaptureDevice
	dialer      RelayDialer
	transcriber ChunkTranscriber
	logger      *zap.Logger

	lifecycle  *Lifecycle
	transcript *Transcript
	ticks      TickSource

	stateObserver      func(from, to State)
	transcriptObserver func(seg Segment, full string)

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu          sync.Mutex
	session     *session
	chunkStatus ChunkStatus
	lastErr     error
}

// New creates a Recorder in StateIdle.
func New(cfg Config, device CaptureDevice, dialer RelayDialer, transcriber ChunkTranscriber, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:         cfg,
		device:      device,
		dialer:      dialer,
		transcriber: transcriber,
		logger:      logger,
		transcript:  NewTranscript(),
		ticks:       realTicks,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lifecycle = NewLifecycle(func(from, to State) {
		r.logger.Info("Recorder state changed", zap.String("from", string(from)), zap.String("to", string(to)))
		if r.stateObserver != nil {
			r.stateObserver(from, to)
		}
	})
	return r
}

// State returns the current lifecycle state.
func (r *Recorder) State() State { return r.lifecycle.State() }

// Transcript returns the accumulated transcript.
func (r *Recorder) Transcript() *Transcript { return r.transcript }

// ChunkStatus returns the status of the most recent polling event.
func (r *Recorder) ChunkStatus() ChunkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunkStatus
}

// Err returns the error that ended the last session, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Done is closed when the current session has fully torn down. With no
// session it returns a closed channel.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.session.done
}

func (r *Recorder) setChunkStatus(s ChunkStatus) {
	r.mu.Lock()
	r.chunkStatus = s
	r.mu.Unlock()
}

func (r *Recorder) appendText(source Source, seq uint64, text string) {
	seg, ok := r.transcript.Append(source, seq, text)
	if !ok {
		return
	}
	if r.transcriptObserver != nil {
		r.transcriptObserver(seg, r.transcript.Text())
	}
}

// Start acquires the device, dials the relay and begins capture. ctx bounds
// the relay dial only.
func (r *Recorder) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	running := r.session != nil
	r.mu.Unlock()
	if running || !CanStart(r.lifecycle.State()) {
		return ErrAlreadyRunning
	}

	if err := r.lifecycle.Transition(StateAcquiringDevice); err != nil {
		return err
	}
	if err := r.device.Open(r.cfg.Format); err != nil {
		r.lifecycle.Transition(StateError)
		return r.failStart(fmt.Errorf("%w: %v", ErrDevice, err))
	}

	if err := r.lifecycle.Transition(StateConnecting); err != nil {
		return err
	}
	conn, err := r.dialer.Dial(ctx, r.cfg.Format)
	if err != nil {
		r.device.Close()
		r.lifecycle.Transition(StateError)
		if !errors.Is(err, ErrLinkSetup) {
			err = fmt.Errorf("%w: %v", ErrLinkSetup, err)
		}
		return r.failStart(err)
	}

	if r.cfg.ResetOnStart {
		r.transcript.Clear()
	}
	r.mu.Lock()
	r.chunkStatus = ChunkStatusNone
	r.lastErr = nil
	r.mu.Unlock()

	frags, err := r.device.Start(r.cfg.SliceInterval)
	if err != nil {
		conn.Close()
		r.device.Close()
		r.lifecycle.Transition(StateError)
		return r.failStart(fmt.Errorf("%w: %v", ErrDevice, err))
	}

	s := newSession(r, conn, frags)
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	if err := r.lifecycle.Transition(StateActive); err != nil {
		return err
	}
	go s.run()
	return nil
}

func (r *Recorder) failStart(err error) error {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	r.logger.Error("Recorder failed to start", zap.Error(err))
	return err
}

// Stop ends the session: capture stops, the relay closes, the tail of the
// window is flushed and in-flight chunks are awaited up to FlushGrace.
// If ctx expires first Stop returns and teardown finishes in the background.
func (r *Recorder) Stop(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return ErrNotRunning
	}

	s.requestStop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	// relayQueueSize bounds live audio waiting for the relay writer.
	relayQueueSize = 64

	// relayDrainWait bounds how long queued live audio may delay teardown.
	relayDrainWait = 2 * time.Second
)

type chunkResult struct {
	seq  uint64
	text string
	err  error
}

// session is the state of one Start..Stop cycle. Everything except the
// dispatch goroutines and pump runs on run's goroutine.
type session struct {
	r      *Recorder
	logger *zap.Logger

	conn      RelayConn
	frags     <-chan entities.AudioFragment
	buffer    *ChunkBuffer
	scheduler *Scheduler
	results   chan chunkResult

	// outbound feeds pump, the only goroutine that writes to conn.
	outbound     chan []byte
	sendErr      chan error
	pumpDone     chan struct{}
	relayDropped int

	// ctx is cancelled at the end of teardown; later chunk results are discarded.
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopReq  chan struct{}
	done     chan struct{}
}

func newSession(r *Recorder, conn RelayConn, frags <-chan entities.AudioFragment) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		r:        r,
		logger:   r.logger,
		conn:     conn,
		frags:    frags,
		buffer:   NewChunkBuffer(r.cfg.Format, r.cfg.Overlap, r.cfg.SliceInterval),
		results:  make(chan chunkResult, 16),
		outbound: make(chan []byte, relayQueueSize),
		sendErr:  make(chan error, 1),
		pumpDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		stopReq:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.scheduler = NewScheduler(s.buffer, s.dispatch)
	return s
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopReq) })
}

// dispatch runs on its own goroutine for every chunk.
func (s *session) dispatch(chunk *entities.AudioChunk) {
	text, err := s.r.transcriber.Transcribe(s.ctx, chunk)
	select {
	case s.results <- chunkResult{seq: chunk.Seq, text: text, err: err}:
	case <-s.ctx.Done():
		s.logger.Debug("Discarding chunk result after teardown", zap.Uint64("seq", chunk.Seq))
	}
}

func (s *session) tick() {
	if s.scheduler.Tick() {
		s.r.setChunkStatus(ChunkStatusTranscribing)
	}
}

func (s *session) applyResult(res chunkResult) {
	if res.err != nil {
		var chunkErr *ChunkError
		if errors.As(res.err, &chunkErr) && chunkErr.StatusCode != 0 {
			s.logger.Warn("Chunk transcription failed",
				zap.Uint64("seq", res.seq),
				zap.Int("status", chunkErr.StatusCode),
				zap.Error(res.err))
		} else {
			s.logger.Warn("Chunk transcription failed", zap.Uint64("seq", res.seq), zap.Error(res.err))
		}
		s.r.setChunkStatus(ChunkStatusFailed)
		return
	}
	s.r.setChunkStatus(ChunkStatusTranscribed)
	s.r.appendText(SourceChunk, res.seq, res.text)
}

// forward buffers a fragment for the polling path and queues it for the
// relay. When the relay writer is behind the fragment is dropped from the
// live path only.
func (s *session) forward(f entities.AudioFragment) {
	s.buffer.Append(f)
	select {
	case s.outbound <- f.Data:
	default:
		s.relayDropped++
		if s.relayDropped == 1 {
			s.logger.Warn("Relay is not keeping up, dropping live audio")
		}
	}
}

// pump writes queued frames to the relay. The first failed write is reported
// on sendErr and everything queued after it is discarded.
func (s *session) pump() {
	defer close(s.pumpDone)

	for frame := range s.outbound {
		if err := s.conn.Send(frame); err != nil {
			s.sendErr <- err
			for range s.outbound {
			}
			return
		}
	}
}

// run is the session event loop.
func (s *session) run() {
	ticks, stopTicks := s.r.ticks(s.r.cfg.TranscribeInterval)
	transcripts := s.conn.Transcripts()
	frags := s.frags

	go s.pump()

	for {
		select {
		case f, ok := <-frags:
			if !ok {
				s.logger.Warn("Capture ended before stop")
				frags = nil
				continue
			}
			s.forward(f)

		case <-ticks:
			s.tick()

		case res := <-s.results:
			s.applyResult(res)

		case text, ok := <-transcripts:
			if ok {
				s.r.appendText(SourceLive, 0, text)
				continue
			}
			cause := s.conn.Err()
			if cause == nil {
				cause = ErrRelayLost
			}
			s.lost(cause, stopTicks, frags)
			return

		case err := <-s.sendErr:
			s.lost(fmt.Errorf("%w: send: %v", ErrRelayLost, err), stopTicks, frags)
			return

		case <-s.stopReq:
			s.r.lifecycle.Transition(StateStopping)
			s.teardown(stopTicks, frags)
			s.finish(nil)
			return
		}
	}
}

func (s *session) lost(cause error, stopTicks func(), frags <-chan entities.AudioFragment) {
	s.logger.Error("Relay connection lost", zap.Error(cause))
	s.r.lifecycle.Transition(StateError)
	s.teardown(stopTicks, frags)
	s.finish(cause)
}

// teardown stops ticking and capture, closes the relay, flushes the window
// and awaits in-flight chunks up to FlushGrace.
func (s *session) teardown(stopTicks func(), frags <-chan entities.AudioFragment) {
	stopTicks()

	if err := s.r.device.Close(); err != nil {
		s.logger.Warn("Failed to release capture device", zap.Error(err))
	}
	if frags != nil {
		for f := range frags {
			s.forward(f)
		}
	}

	s.closeRelay()

	s.tick()

	waited := make(chan struct{})
	go func() {
		s.scheduler.Wait(s.ctx)
		close(waited)
	}()

	grace := time.NewTimer(s.r.cfg.FlushGrace)
	defer grace.Stop()

await:
	for {
		select {
		case res := <-s.results:
			s.applyResult(res)
		case <-waited:
			break await
		case <-grace.C:
			s.logger.Warn("Flush grace expired with chunks in flight", zap.Duration("grace", s.r.cfg.FlushGrace))
			break await
		}
	}

	// Results already delivered before the deadline still count.
	for drained := false; !drained; {
		select {
		case res := <-s.results:
			s.applyResult(res)
		default:
			drained = true
		}
	}
	s.cancel()
}

// closeRelay lets the writer flush what is queued, bounded by FlushGrace
// and relayDrainWait, then closes the connection.
func (s *session) closeRelay() {
	close(s.outbound)

	wait := relayDrainWait
	if s.r.cfg.FlushGrace < wait {
		wait = s.r.cfg.FlushGrace
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-s.pumpDone:
	case <-timer.C:
		s.logger.Warn("Relay writer still busy, closing connection", zap.Int("queued", len(s.outbound)))
	}

	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Relay close", zap.Error(err))
	}
}

// finish reports Stopped before it releases the session.
func (s *session) finish(cause error) {
	s.r.mu.Lock()
	s.r.lastErr = cause
	s.r.mu.Unlock()

	s.r.lifecycle.Transition(StateStopped)

	s.r.mu.Lock()
	if s.r.session == s {
		s.r.session = nil
	}
	s.r.mu.Unlock()

	s.logger.Info("Recording session ended",
		zap.Int("segments", s.r.transcript.Len()),
		zap.Int("relayFramesDropped", s.relayDropped),
		zap.Error(cause))
	close(s.done)
}
