package serialbridge

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Consumer receives each chunk on the session's notification goroutine. It
// must not block for long; hand slow work to a ChannelSink.
type Consumer func(Chunk)

// Subscription is an attached listener. Exactly one goroutine reads the port
// on its behalf and calls the consumer in arrival order.
type Subscription struct {
	session *Session
	onData  Consumer
	log     zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	detached  atomic.Bool
	delivered atomic.Uint64
}

// Attach starts delivering received bytes to onData. A session has at most one
// listener; a detached one is replaced once its goroutine has exited.
func Attach(s *Session, onData Consumer) (*Subscription, error) {
	return s.Attach(onData)
}

func (s *Session) Attach(onData Consumer) (*Subscription, error) {
	if onData == nil {
		return nil, errors.New("serialbridge: nil consumer")
	}

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if prev := s.listener; prev != nil {
		if !prev.detached.Load() {
			return nil, ErrAlreadyAttached
		}
		// A detached goroutine notices within one read timeout.
		select {
		case <-prev.done:
		case <-time.After(s.cfg.ReadTimeout + receiverStopTimeout):
			return nil, ErrAlreadyAttached
		}
	}

	sub := &Subscription{
		session: s,
		onData:  onData,
		log:     s.logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.listener = sub
	go sub.run()

	s.logger.Debug().Msg("listener attached")
	return sub, nil
}

// Detach stops delivery. It does not wait for the notification goroutine, so
// it is safe to call from inside the consumer and after the session closed.
// Bytes read after Detach are discarded; a delivery already under way
// completes.
func (sub *Subscription) Detach() {
	sub.detached.Store(true)
	sub.stop()
}

// Done is closed when the notification goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Delivered reports how many chunks have been handed to the consumer.
func (sub *Subscription) Delivered() uint64 {
	return sub.delivered.Load()
}

func (sub *Subscription) stop() {
	sub.stopOnce.Do(func() { close(sub.stopCh) })
}

func (sub *Subscription) stopped() bool {
	select {
	case <-sub.stopCh:
		return true
	default:
		return false
	}
}

func (sub *Subscription) run() {
	defer close(sub.done)

	s := sub.session
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	for {
		if sub.stopped() {
			return
		}

		n, err := s.port.Read(buf)

		if sub.stopped() {
			return
		}

		if err != nil {
			if s.closed.Load() {
				return
			}
			rerr := &ReadError{Port: s.identity.Name, Err: err}
			s.metrics.recordReadError()
			s.readLog.Warn().Err(rerr).Msg("read failed")
			if !sub.pause(s.cfg.ReadErrorBackoff) {
				return
			}
			continue
		}

		if n == 0 {
			s.metrics.EmptyEvents.Inc()
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		sub.deliver(Chunk{
			Seq:      sub.delivered.Load() + 1,
			Received: time.Now(),
			Data:     data,
		})
	}
}

// pause sleeps for d unless the subscription is stopped first.
func (sub *Subscription) pause(d time.Duration) bool {
	if d <= 0 {
		return !sub.stopped()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-sub.stopCh:
		return false
	}
}

func (sub *Subscription) deliver(c Chunk) {
	sub.delivered.Inc()
	sub.session.metrics.recordChunk(c)

	defer func() {
		if r := recover(); r != nil {
			sub.session.metrics.ConsumerPanics.Inc()
			sub.log.Error().Interface("panic", r).Uint64("seq", c.Seq).Msg("consumer panicked")
		}
	}()
	sub.onData(c)
}
