package udp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackEndpoint(t *testing.T, rxPort uint16) *Endpoint {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = rxPort
	ep := NewEndpoint(cfg)
	t.Cleanup(func() {
		_ = ep.Stop(context.Background())
	})
	return ep
}

func TestEndpoint_StartStop(t *testing.T) {
	ep := newLoopbackEndpoint(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ep.Start(ctx))
	bounded, err := ep.IsBounded(ctx)
	require.NoError(t, err)
	assert.True(t, bounded)

	require.NoError(t, ep.Stop(ctx))
	assert.ErrorIs(t, ep.Stop(ctx), ErrNotRunning)
}

func TestEndpoint_StartTwiceFails(t *testing.T) {
	ep := newLoopbackEndpoint(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ep.Start(ctx))
	assert.ErrorIs(t, ep.Start(ctx), ErrAlreadyRunning)
}

func TestEndpoint_UnicastLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rxPort := uint16(41234)
	receiver := newLoopbackEndpoint(t, rxPort)
	received := make(chan *Datagram, 1)
	receiver.Handle(func(ev Event) {
		if ev.Kind == EventDatagramReceived {
			received <- ev.Datagram
		}
	})
	require.NoError(t, receiver.Start(ctx))

	sender := NewEndpoint(Config{InputEnabled: false})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop(context.Background())

	payload := []byte("hello over loopback")
	_, err := sender.SendTo(ctx, payload, "127.0.0.1", rxPort)
	require.NoError(t, err)

	select {
	case d := <-received:
		assert.Equal(t, payload, d.Payload())
		assert.Equal(t, "127.0.0.1", d.SourceAddress)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestEndpoint_CountersAdvanceAfterSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rxPort := uint16(41235)
	receiver := newLoopbackEndpoint(t, rxPort)
	require.NoError(t, receiver.Start(ctx))

	sender := NewEndpoint(Config{InputEnabled: false})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop(context.Background())

	_, err := sender.SendTo(ctx, []byte("counted"), "127.0.0.1", rxPort)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		totals, _ := sender.Counters()
		return totals.TxBytes > 0 && totals.TxPackets == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEndpoint_SendRejectsOversizedDatagram(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sender := NewEndpoint(Config{InputEnabled: false})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop(context.Background())

	d := NewDatagram(maxDatagramSize + 1)
	d.DestinationAddress = "127.0.0.1"
	d.DestinationPort = 9
	_, err := sender.Send(ctx, d)
	assert.ErrorIs(t, err, ErrDatagramTooLarge)
}

func TestEndpoint_SendRejectsEmptyAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sender := NewEndpoint(Config{InputEnabled: false})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop(context.Background())

	d := NewDatagram(4)
	_, err := sender.Send(ctx, d)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEndpoint_JoinGroupThenIsGroupPresent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.RxAddress = ""
	cfg.RxPort = 41236
	cfg.MulticastLoopback = true
	ep := NewEndpoint(cfg)
	t.Cleanup(func() { _ = ep.Stop(context.Background()) })
	require.NoError(t, ep.Start(ctx))

	require.NoError(t, ep.JoinGroup(ctx, "239.1.2.3"))

	require.Eventually(t, func() bool {
		present, err := ep.IsGroupPresent(ctx, "239.1.2.3")
		return err == nil && present
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, ep.LeaveGroup(ctx, "239.1.2.3"))
	present, err := ep.IsGroupPresent(ctx, "239.1.2.3")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestEndpoint_MulticastLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.RxAddress = ""
	cfg.RxPort = 41298
	cfg.MulticastLoopback = true
	receiver := NewEndpoint(cfg)
	t.Cleanup(func() { _ = receiver.Stop(context.Background()) })

	received := make(chan *Datagram, 1)
	receiver.Handle(func(ev Event) {
		if ev.Kind == EventDatagramReceived {
			received <- ev.Datagram
		}
	})
	require.NoError(t, receiver.Start(ctx))
	require.NoError(t, receiver.JoinGroup(ctx, "239.10.20.30"))

	require.Eventually(t, func() bool {
		present, err := receiver.IsGroupPresent(ctx, "239.10.20.30")
		return err == nil && present
	}, 3*time.Second, 20*time.Millisecond)

	sender := NewEndpoint(Config{InputEnabled: false, MulticastLoopback: true, MulticastTTL: 1})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop(context.Background())

	payload := []byte("multicast hello")
	_, err := sender.SendTo(ctx, payload, "239.10.20.30", 41298)
	require.NoError(t, err)

	select {
	case d := <-received:
		assert.Equal(t, payload, d.Payload())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for multicast datagram")
	}
}

func TestEndpoint_BindConflictRecoversAfterFreed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	port := uint16(41299)

	holder := newLoopbackEndpoint(t, port)
	require.NoError(t, holder.Start(ctx))

	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = port
	cfg.WatchdogPeriod = 100 * time.Millisecond
	ep := NewEndpoint(cfg)
	t.Cleanup(func() { _ = ep.Stop(context.Background()) })

	var sawError int32
	ep.Handle(func(ev Event) {
		if ev.Kind == EventSocketError {
			atomic.AddInt32(&sawError, 1)
		}
	})

	// Start reports success even though the underlying bind will fail: a
	// bind failure surfaces asynchronously as EventSocketError plus
	// watchdog-driven retries, not as a Start error (§7).
	require.NoError(t, ep.Start(ctx))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sawError) > 0
	}, 2*time.Second, 10*time.Millisecond)

	bounded, err := ep.IsBounded(ctx)
	require.NoError(t, err)
	assert.False(t, bounded)

	require.NoError(t, holder.Stop(context.Background()))

	require.Eventually(t, func() bool {
		bounded, err := ep.IsBounded(ctx)
		return err == nil && bounded
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEndpoint_RunDrivesWorkerLoopInline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = 0
	ep := NewEndpoint(cfg)
	require.NoError(t, ep.UseWorkerThread(false))

	done := make(chan error, 1)
	go func() { done <- ep.Run(context.Background()) }()

	ctx, cancelOp := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelOp()
	require.Eventually(t, func() bool {
		bounded, err := ep.IsBounded(ctx)
		return err == nil && bounded
	}, 1*time.Second, 10*time.Millisecond)

	require.NoError(t, ep.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEndpoint_MakeDatagramSizesBuffer(t *testing.T) {
	ep := NewEndpoint(DefaultConfig())
	d := ep.MakeDatagram(128)
	assert.Len(t, d.Payload(), 128)
}
