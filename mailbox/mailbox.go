// Buffering layer between an unreliable, reconnecting transport and
// the rest of the client. Inbound encrypted envelopes are buffered and
// drained in per-inbox order; outbound frames accumulate while the
// link is down and flush after the resubscription handshake on the
// next open. Connectivity is reported with a short disconnect grace so
// a reconnect blip does not flap the queue's online gate.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"go.uber.org/zap"
)

// Transport is the minimal surface the mailbox needs from the
// underlying connection.
type Transport interface {
	IsOpen() bool
	Send(ctx context.Context, frame []byte) error
}

// MessageHandler processes one inbound envelope. An error fails only
// that envelope.
type MessageHandler func(ctx context.Context, inboxAddress string, envelope []byte) error

type envelope struct {
	inboxAddress string
	body         []byte
}

type Manager struct {
	config    *config.Config
	clock     clock.Clock
	log       *zap.SugaredLogger
	transport Transport

	handler     MessageHandler
	resubscribe func(ctx context.Context) error
	notify      func(processed int)
	status      func(connected bool)

	inboundLock     sync.Mutex
	inbound         []envelope
	inboundDraining bool
	lastNotifyAt    uint64

	outboundLock     sync.Mutex
	outbound         [][]byte
	outboundFlushing bool
	needsResubscribe bool

	graceLock  sync.Mutex
	graceTimer *time.Timer
	connected  bool

	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
}

func NewManager(c *config.Config, cl clock.Clock, t Transport) *Manager {
	return &Manager{
		config:           c,
		clock:            cl,
		log:              c.Logger("mailbox"),
		transport:        t,
		needsResubscribe: true,
	}
}

// SetHandler, SetResubscribe, SetNotifier and SetStatusReporter wire
// the mailbox's collaborators. All must be set before Start.
func (m *Manager) SetHandler(h MessageHandler) {
	m.handler = h
}

func (m *Manager) SetResubscribe(f func(ctx context.Context) error) {
	m.resubscribe = f
}

func (m *Manager) SetNotifier(f func(processed int)) {
	m.notify = f
}

func (m *Manager) SetStatusReporter(f func(connected bool)) {
	m.status = f
}

func (m *Manager) Start() error {
	ctx, cancelFunc := context.WithCancel(context.Background())
	m.cancelFunc = cancelFunc
	m.startTicker(ctx)
	return nil
}

func (m *Manager) Shutdown() error {
	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.graceLock.Lock()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.graceLock.Unlock()
	m.finished.Wait()
	return nil
}

func (m *Manager) startTicker(ctx context.Context) {
	m.finished.Add(1)
	go func() {
		defer m.finished.Done()
		ticker := time.NewTicker(time.Duration(m.config.MailboxTickMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.drainInbound(ctx)
				m.flushOutbound(ctx)
			}
		}
	}()
}

// Receive buffers one inbound envelope. Called from the transport's
// read loop; processing happens on the next drain.
func (m *Manager) Receive(inboxAddress string, body []byte) {
	m.inboundLock.Lock()
	m.inbound = append(m.inbound, envelope{inboxAddress: inboxAddress, body: body})
	m.inboundLock.Unlock()
}

// Enqueue buffers one outbound frame. Frames survive any number of
// transport drops and flush in order on the next open.
func (m *Manager) Enqueue(frame []byte) {
	m.outboundLock.Lock()
	m.outbound = append(m.outbound, frame)
	m.outboundLock.Unlock()
}

// TransportOpened is called by the transport on every open transition.
// Connectivity is reported immediately; the resubscription handshake
// runs before any queued frame goes out.
func (m *Manager) TransportOpened(ctx context.Context) {
	m.graceLock.Lock()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	already := m.connected
	m.connected = true
	m.graceLock.Unlock()
	if !already && m.status != nil {
		m.status(true)
	}

	m.outboundLock.Lock()
	m.needsResubscribe = true
	m.outboundLock.Unlock()
	m.flushOutbound(ctx)
}

// TransportClosed starts the disconnect grace period. The link often
// reopens within a few seconds; only after the grace expires is the
// disconnect reported.
func (m *Manager) TransportClosed() {
	m.graceLock.Lock()
	defer m.graceLock.Unlock()
	if m.graceTimer != nil || !m.connected {
		return
	}
	m.graceTimer = time.AfterFunc(time.Duration(m.config.DisconnectGraceMs)*time.Millisecond, func() {
		m.graceLock.Lock()
		m.graceTimer = nil
		if m.transport.IsOpen() {
			m.graceLock.Unlock()
			return
		}
		m.connected = false
		m.graceLock.Unlock()
		m.log.Debugf("transport closed past grace period")
		if m.status != nil {
			m.status(false)
		}
	})
}

// drainInbound processes everything buffered so far: envelopes are
// grouped by inbox address, each group runs sequentially, groups run
// concurrently. A failing envelope is logged and skipped without
// blocking its siblings. The guard keeps overlapping drains out.
func (m *Manager) drainInbound(ctx context.Context) {
	m.inboundLock.Lock()
	if m.inboundDraining || len(m.inbound) == 0 {
		m.inboundLock.Unlock()
		return
	}
	m.inboundDraining = true
	batch := m.inbound
	m.inbound = nil
	m.inboundLock.Unlock()
	defer func() {
		m.inboundLock.Lock()
		m.inboundDraining = false
		m.inboundLock.Unlock()
	}()

	groups := make(map[string][]envelope)
	for _, e := range batch {
		groups[e.inboxAddress] = append(groups[e.inboxAddress], e)
	}

	var wg sync.WaitGroup
	for addr, group := range groups {
		wg.Add(1)
		go func(addr string, group []envelope) {
			defer wg.Done()
			for _, e := range group {
				if ctx.Err() != nil {
					return
				}
				if err := m.handler(ctx, e.inboxAddress, e.body); err != nil {
					m.log.Warnf("processing envelope for %s: %s", addr, err)
				}
			}
		}(addr, group)
	}
	wg.Wait()

	m.maybeNotify(len(batch))
}

// maybeNotify raises the user-facing notification at most once per
// cooldown window, no matter how many envelopes arrived.
func (m *Manager) maybeNotify(processed int) {
	if processed == 0 || m.notify == nil {
		return
	}
	now := m.clock.CurrentTimeMs()
	m.inboundLock.Lock()
	if m.lastNotifyAt != 0 && now-m.lastNotifyAt < uint64(m.config.NotifyCooldownMs) {
		m.inboundLock.Unlock()
		return
	}
	m.lastNotifyAt = now
	m.inboundLock.Unlock()
	m.notify(processed)
}

// flushOutbound sends buffered frames strictly while the transport is
// open, resubscribing first if this is the first flush since an open.
// A send failure puts the frame back at the head of the buffer.
func (m *Manager) flushOutbound(ctx context.Context) {
	if !m.transport.IsOpen() {
		return
	}
	m.outboundLock.Lock()
	if m.outboundFlushing {
		m.outboundLock.Unlock()
		return
	}
	m.outboundFlushing = true
	resub := m.needsResubscribe
	m.outboundLock.Unlock()
	defer func() {
		m.outboundLock.Lock()
		m.outboundFlushing = false
		m.outboundLock.Unlock()
	}()

	if resub {
		if m.resubscribe != nil {
			if err := m.resubscribe(ctx); err != nil {
				m.log.Warnf("resubscribing: %s", err)
				return
			}
		}
		m.outboundLock.Lock()
		m.needsResubscribe = false
		m.outboundLock.Unlock()
	}

	for {
		m.outboundLock.Lock()
		if len(m.outbound) == 0 {
			m.outboundLock.Unlock()
			return
		}
		frame := m.outbound[0]
		m.outbound = m.outbound[1:]
		m.outboundLock.Unlock()

		if !m.transport.IsOpen() {
			m.requeue(frame)
			return
		}
		if err := m.transport.Send(ctx, frame); err != nil {
			m.log.Warnf("sending frame: %s", err)
			m.requeue(frame)
			return
		}
	}
}

func (m *Manager) requeue(frame []byte) {
	m.outboundLock.Lock()
	m.outbound = append([][]byte{frame}, m.outbound...)
	m.outboundLock.Unlock()
}

// PendingOutbound reports the number of buffered outbound frames.
func (m *Manager) PendingOutbound() int {
	m.outboundLock.Lock()
	defer m.outboundLock.Unlock()
	return len(m.outbound)
}
