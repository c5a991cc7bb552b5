package mailbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	lock     sync.Mutex
	open     bool
	failSend bool
	sent     [][]byte
}

func (f *fakeTransport) IsOpen() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.open
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) setOpen(open bool) {
	f.lock.Lock()
	f.open = open
	f.lock.Unlock()
}

func newMailbox(opts ...config.Option) (*Manager, *fakeTransport, *clock.TestClock) {
	c := config.NewConfig(opts...)
	cl := clock.NewTestClock(1000000 * 1000)
	ft := &fakeTransport{}
	m := NewManager(c, cl, ft)
	m.SetHandler(func(_ context.Context, _ string, _ []byte) error { return nil })
	m.SetResubscribe(func(_ context.Context) error { return nil })
	return m, ft, cl
}

func TestInboundPerInboxOrder(t *testing.T) {
	require := require.New(t)
	m, _, _ := newMailbox()

	var lock sync.Mutex
	byInbox := map[string][]string{}
	m.SetHandler(func(_ context.Context, inboxAddress string, envelope []byte) error {
		lock.Lock()
		byInbox[inboxAddress] = append(byInbox[inboxAddress], string(envelope))
		lock.Unlock()
		return nil
	})

	m.Receive("inbox1", []byte("a"))
	m.Receive("inbox2", []byte("x"))
	m.Receive("inbox1", []byte("b"))
	m.Receive("inbox2", []byte("y"))
	m.drainInbound(context.Background())

	require.Equal([]string{"a", "b"}, byInbox["inbox1"])
	require.Equal([]string{"x", "y"}, byInbox["inbox2"])
}

func TestInboundFailureIsolation(t *testing.T) {
	require := require.New(t)
	m, _, _ := newMailbox()

	var lock sync.Mutex
	var processed []string
	m.SetHandler(func(_ context.Context, _ string, envelope []byte) error {
		if string(envelope) == "bad" {
			return errors.New("cannot process")
		}
		lock.Lock()
		processed = append(processed, string(envelope))
		lock.Unlock()
		return nil
	})

	m.Receive("inbox1", []byte("a"))
	m.Receive("inbox1", []byte("bad"))
	m.Receive("inbox1", []byte("b"))
	m.drainInbound(context.Background())

	require.Equal([]string{"a", "b"}, processed)
}

func TestNotifyThrottle(t *testing.T) {
	require := require.New(t)
	m, _, cl := newMailbox()

	notifies := 0
	m.SetNotifier(func(_ int) { notifies++ })

	m.Receive("inbox1", []byte("a"))
	m.drainInbound(context.Background())
	require.Equal(1, notifies)

	// within the cooldown window nothing more is raised
	m.Receive("inbox1", []byte("b"))
	m.drainInbound(context.Background())
	require.Equal(1, notifies)

	cl.AdvanceMs(6000)
	m.Receive("inbox1", []byte("c"))
	m.drainInbound(context.Background())
	require.Equal(2, notifies)
}

func TestNoNotifyOnEmptyDrain(t *testing.T) {
	require := require.New(t)
	m, _, _ := newMailbox()

	notifies := 0
	m.SetNotifier(func(_ int) { notifies++ })
	m.drainInbound(context.Background())
	require.Equal(0, notifies)
}

func TestOutboundHeldWhileClosed(t *testing.T) {
	require := require.New(t)
	m, ft, _ := newMailbox()

	m.Enqueue([]byte("frame1"))
	m.flushOutbound(context.Background())
	require.Len(ft.sentFrames(), 0)
	require.Equal(1, m.PendingOutbound())
}

func TestOpenResubscribesThenFlushes(t *testing.T) {
	require := require.New(t)
	m, ft, _ := newMailbox()

	var order []string
	m.SetResubscribe(func(_ context.Context) error {
		order = append(order, "resubscribe")
		return nil
	})
	m.SetHandler(func(_ context.Context, _ string, _ []byte) error { return nil })

	m.Enqueue([]byte("frame1"))
	m.Enqueue([]byte("frame2"))
	ft.setOpen(true)
	m.TransportOpened(context.Background())

	sent := ft.sentFrames()
	require.Len(sent, 2)
	require.Equal("frame1", string(sent[0]))
	require.Equal("frame2", string(sent[1]))
	require.Equal([]string{"resubscribe"}, order)
	require.Equal(0, m.PendingOutbound())
}

func TestResubscribeFailureHoldsFrames(t *testing.T) {
	require := require.New(t)
	m, ft, _ := newMailbox()

	m.SetResubscribe(func(_ context.Context) error { return errors.New("subscribe refused") })
	m.Enqueue([]byte("frame1"))
	ft.setOpen(true)
	m.TransportOpened(context.Background())

	require.Len(ft.sentFrames(), 0)
	require.Equal(1, m.PendingOutbound())
}

func TestSendFailureRequeuesFrame(t *testing.T) {
	require := require.New(t)
	m, ft, _ := newMailbox()

	m.Enqueue([]byte("frame1"))
	ft.setOpen(true)
	ft.failSend = true
	m.TransportOpened(context.Background())
	require.Equal(1, m.PendingOutbound())

	ft.failSend = false
	m.flushOutbound(context.Background())
	require.Len(ft.sentFrames(), 1)
	require.Equal(0, m.PendingOutbound())
}

func TestDisconnectGrace(t *testing.T) {
	require := require.New(t)
	m, ft, _ := newMailbox(config.WithDisconnectGraceMs(20))

	var lock sync.Mutex
	var reported []bool
	m.SetStatusReporter(func(connected bool) {
		lock.Lock()
		reported = append(reported, connected)
		lock.Unlock()
	})

	ft.setOpen(true)
	m.TransportOpened(context.Background())
	lock.Lock()
	require.Equal([]bool{true}, reported)
	lock.Unlock()

	// a blip shorter than the grace is never reported
	ft.setOpen(false)
	m.TransportClosed()
	ft.setOpen(true)
	m.TransportOpened(context.Background())
	time.Sleep(60 * time.Millisecond)
	lock.Lock()
	require.Equal([]bool{true}, reported)
	lock.Unlock()

	// a real disconnect is reported after the grace
	ft.setOpen(false)
	m.TransportClosed()
	time.Sleep(60 * time.Millisecond)
	lock.Lock()
	require.Equal([]bool{true, false}, reported)
	lock.Unlock()
}
