// Package session drives one heater connection through discovery, connect,
// subscribe, polling and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/groutine"
	"github.com/srg/heaterbridge/internal/heater"
	"github.com/srg/heaterbridge/internal/ringchan"
	"github.com/srg/heaterbridge/internal/telemetry"
)

// Heater GATT identifiers.
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultConnectTimeout = 60 * time.Second
	DefaultStopSettle     = 10 * time.Second
	DefaultNotifyBuffer   = 16
	DefaultSource         = "heaterbridge"
)

// Sink receives one telemetry update per decoded status frame.
type Sink interface {
	Publish(ctx context.Context, update telemetry.Update) error
}

// Options configures a Session. Zero durations fall back to the defaults,
// except StopSettle where zero disables the settle delay.
type Options struct {
	Address        string
	HeaterInstance string
	Source         string
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	StopSettle     time.Duration
	NotifyBuffer   int
	Logger         *logrus.Logger
}

// Stats counts session traffic.
type Stats struct {
	Published     int64
	Malformed     int64
	WriteFailures int64
	Overwritten   int64
}

// Session owns the device and characteristic handles of one heater connection.
// Handles exist only between a successful Start and the end of teardown.
type Session struct {
	id       string
	opts     Options
	adapter  device.Adapter
	sink     Sink
	basePath string
	logger   *logrus.Entry
	now      func() time.Time

	mu     sync.Mutex
	state  State
	dev    device.Device
	char   device.Characteristic
	frames *ringchan.RingChannel[[]byte]
	cancel context.CancelFunc
	group  *groutine.Group
	lost   chan struct{}
	done   chan struct{}

	published     atomic.Int64
	malformed     atomic.Int64
	writeFailures atomic.Int64
}

// New creates an idle session.
func New(adapter device.Adapter, sink Sink, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.StopSettle < 0 {
		opts.StopSettle = 0
	}
	if opts.NotifyBuffer <= 0 {
		opts.NotifyBuffer = DefaultNotifyBuffer
	}
	if opts.HeaterInstance == "" {
		opts.HeaterInstance = "heater"
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	id := uuid.NewString()
	return &Session{
		id:       id,
		opts:     opts,
		adapter:  adapter,
		sink:     sink,
		basePath: telemetry.BasePath(opts.HeaterInstance),
		logger: logger.WithFields(logrus.Fields{
			"session_id": id,
			"address":    opts.Address,
		}),
		now: time.Now,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Lost is closed when a polling session drops to Idle because the link was lost.
// It is nil before the first successful Start.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Published:     s.published.Load(),
		Malformed:     s.malformed.Load(),
		WriteFailures: s.writeFailures.Load(),
	}
	s.mu.Lock()
	if s.frames != nil {
		st.Overwritten = s.frames.Metrics().Overwritten
	}
	s.mu.Unlock()
	return st
}

// transition moves from one state to another, failing if the session is elsewhere.
func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidTransition, from, to, s.state)
	}
	s.state = to
	s.logger.WithField("state", to.String()).Debug("Session state changed")
	return nil
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to
	s.logger.WithField("state", to.String()).Debug("Session state changed")
}

// Start establishes the connection and begins polling. Any failure disconnects
// whatever was established and returns the session to Idle.
func (s *Session) Start(ctx context.Context) (err error) {
	if err := s.transition(Idle, Discovering); err != nil {
		return err
	}

	estCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	var dev device.Device
	defer func() {
		if err == nil {
			return
		}
		if dev != nil {
			if derr := dev.Disconnect(); derr != nil {
				s.logger.WithField("error", derr).Warn("Failed to disconnect after failed start")
			}
		}
		s.setState(Idle)
		s.logger.WithField("error", err).Error("Failed to start session")
	}()

	if !s.adapter.IsDiscovering() {
		if err = s.adapter.StartDiscovery(estCtx); err != nil {
			return fmt.Errorf("start discovery: %w", device.NormalizeError(err))
		}
	}
	s.logger.Info("Waiting for heater to advertise...")

	dev, err = s.adapter.WaitForDevice(estCtx, s.opts.Address)
	if err != nil {
		dev = nil
		return fmt.Errorf("discover %s: %w", s.opts.Address, err)
	}
	if err = s.transition(Discovering, Connecting); err != nil {
		return err
	}

	if err = dev.Connect(estCtx); err != nil {
		dev = nil
		return fmt.Errorf("connect %s: %w", s.opts.Address, device.NormalizeError(err))
	}
	if err = s.transition(Connecting, Subscribing); err != nil {
		return err
	}

	char, err := s.resolve(estCtx, dev)
	if err != nil {
		return err
	}

	frames := ringchan.New[[]byte](s.opts.NotifyBuffer)
	err = char.StartNotifications(estCtx, func(data []byte) {
		frames.Send(append([]byte(nil), data...))
	})
	if err != nil {
		frames.Close()
		return fmt.Errorf("%w: start notifications: %v", ErrServiceUnavailable, err)
	}

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	group := &groutine.Group{}

	s.mu.Lock()
	s.dev = dev
	s.char = char
	s.frames = frames
	s.cancel = runCancel
	s.group = group
	s.lost = make(chan struct{})
	s.done = make(chan struct{})
	s.state = Polling
	s.mu.Unlock()

	group.Go(runCtx, "heater-notify", func(ctx context.Context) { s.consume(ctx, frames) })
	group.Go(runCtx, "heater-poll", func(ctx context.Context) { s.poll(ctx, char) })
	group.Go(runCtx, "heater-link", func(ctx context.Context) { s.monitor(ctx, dev) })

	s.logger.WithField("poll_interval", s.opts.PollInterval).Info("Heater session polling")
	return nil
}

// resolve looks up the heater service and characteristic.
func (s *Session) resolve(ctx context.Context, dev device.Device) (device.Characteristic, error) {
	gatt, err := dev.GATT(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gatt: %v", ErrServiceUnavailable, err)
	}
	svc, err := gatt.GetPrimaryService(ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	char, err := svc.GetCharacteristic(CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return char, nil
}

// consume decodes frames in arrival order and publishes them.
func (s *Session) consume(ctx context.Context, frames *ringchan.RingChannel[[]byte]) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames.C():
			if !ok {
				return
			}
			// nothing is published once teardown has begun
			if ctx.Err() != nil {
				return
			}
			s.handleFrame(ctx, data)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	rec, err := heater.Decode(data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.WithFields(logrus.Fields{
			"length": len(data),
			"error":  err,
		}).Warn("Dropping malformed status frame")
		return
	}

	update := telemetry.Update{
		Source:    s.opts.Source,
		Timestamp: s.now().UTC(),
		Values:    telemetry.Flatten(rec, s.basePath),
	}
	if err := s.sink.Publish(ctx, update); err != nil {
		s.logger.WithField("error", err).Warn("Failed to publish telemetry")
		return
	}
	s.published.Add(1)
	s.logger.WithFields(logrus.Fields{
		"state":       rec.RunningState.String(),
		"room_temp_k": rec.RoomTemp,
	}).Debug("Published heater status")
}

// poll writes a ping every interval while the session is Polling.
func (s *Session) poll(ctx context.Context, char device.Characteristic) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	ping := heater.BuildPing()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.State() != Polling {
			continue
		}
		w, ok := char.(device.CharacteristicWriter)
		if !ok {
			s.logger.WithField("error", device.ErrNotWritable).Debug("Characteristic is not writable, skipping ping")
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, s.opts.PollInterval)
		err := w.WriteValue(wctx, ping.Bytes())
		cancel()
		if err != nil {
			s.writeFailures.Add(1)
			s.logger.WithField("error", fmt.Errorf("%w: %v", ErrWriteFailure, err)).Warn("Ping failed, retrying next tick")
		}
	}
}

// monitor tears the session down when the device reports link loss.
func (s *Session) monitor(ctx context.Context, dev device.Device) {
	select {
	case <-ctx.Done():
		return
	case <-dev.Disconnected():
	}

	s.mu.Lock()
	if s.state != Polling {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	s.mu.Unlock()

	s.logger.Warn("Heater connection lost")
	// teardown waits for this goroutine, so it must run elsewhere
	go func() {
		if err := s.teardown(context.Background(), true); err != nil {
			s.logger.WithField("error", err).Debug("Teardown after link loss reported errors")
		}
	}()
}

// Stop cancels polling, unsubscribes, disconnects and releases the handles,
// then waits the settle delay. Stop on an idle session is a no-op. Stop while
// another teardown runs waits for it.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == Idle:
		s.mu.Unlock()
		return nil
	case s.state == Stopping:
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case s.state.establishing():
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidTransition, state)
	}
	s.state = Stopping
	s.mu.Unlock()

	s.logger.Info("Stopping heater session")
	return s.teardown(ctx, false)
}

func (s *Session) teardown(ctx context.Context, lost bool) error {
	s.mu.Lock()
	dev, char, frames, cancel, group := s.dev, s.char, s.frames, s.cancel, s.group
	lostCh, done := s.lost, s.done
	s.mu.Unlock()

	defer func() {
		s.setState(Idle)
		if lost {
			close(lostCh)
		}
		close(done)
	}()

	var errs []error

	cancel()
	if err := char.StopNotifications(); err != nil && !lost {
		s.logger.WithField("error", err).Warn("Failed to stop notifications")
		errs = append(errs, fmt.Errorf("stop notifications: %w", err))
	}
	frames.Close()
	if err := dev.Disconnect(); err != nil && !lost {
		s.logger.WithField("error", err).Warn("Failed to disconnect")
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	group.Wait()
	s.release()

	if s.opts.StopSettle > 0 {
		s.logger.WithField("settle", s.opts.StopSettle).Debug("Waiting for adapter to settle")
		timer := time.NewTimer(s.opts.StopSettle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	s.logger.Info("Heater session stopped")
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrTeardown, errors.Join(errs...))
	}
	return nil
}

// release drops every handle so nothing can use them after teardown.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = nil
	s.char = nil
	s.cancel = nil
	s.group = nil
}
