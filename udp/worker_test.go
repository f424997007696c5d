package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netudp/udp/datagrampool"
	"netudp/udp/iface"
	"netudp/udp/udplog"
)

func newTestWorker() *worker {
	events := make(chan Event, 16)
	return newWorker(iface.New(), datagrampool.New(0), udplog.Nop(), events, &Counters{})
}

func TestWorker_SendRequiresBound(t *testing.T) {
	w := newTestWorker()
	d := NewDatagram(4)
	d.DestinationAddress = "127.0.0.1"
	d.DestinationPort = 9
	_, err := w.send(d)
	assert.ErrorIs(t, err, ErrNotBounded)
}

func TestWorker_DoStartBindsAndDoStopTearsDown(t *testing.T) {
	w := newTestWorker()
	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = 0

	require.NoError(t, w.doStart(cfg))
	assert.Equal(t, stateBound, w.state)
	assert.True(t, w.isBounded)

	w.doStop()
	assert.Equal(t, stateIdle, w.state)
	assert.False(t, w.isBounded)
	assert.Nil(t, w.txSock)
	assert.Nil(t, w.rxSock)
}

func TestWorker_DoStartTwiceReturnsAlreadyRunning(t *testing.T) {
	w := newTestWorker()
	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = 0
	require.NoError(t, w.doStart(cfg))
	t.Cleanup(w.doStop)

	assert.ErrorIs(t, w.doStart(cfg), ErrAlreadyRunning)
}

func TestWorker_SendValidatesDatagram(t *testing.T) {
	w := newTestWorker()
	cfg := Config{InputEnabled: false}
	require.NoError(t, w.doStart(cfg))
	t.Cleanup(w.doStop)

	_, err := w.send(&Datagram{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	oversized := NewDatagram(maxDatagramSize + 1)
	oversized.DestinationAddress = "127.0.0.1"
	oversized.DestinationPort = 9
	_, err = w.send(oversized)
	assert.ErrorIs(t, err, ErrDatagramTooLarge)

	bad := NewDatagram(4)
	bad.DestinationAddress = "not-an-ip"
	bad.DestinationPort = 9
	_, err = w.send(bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWorker_UnicastLoopbackSend(t *testing.T) {
	rx := newTestWorker()
	cfg := DefaultConfig()
	cfg.RxAddress = "127.0.0.1"
	cfg.RxPort = 0
	require.NoError(t, rx.doStart(cfg))
	t.Cleanup(rx.doStop)

	udpAddr, ok := rx.txSock.conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	tx := newTestWorker()
	require.NoError(t, tx.doStart(Config{InputEnabled: false}))
	t.Cleanup(tx.doStop)

	d := NewDatagram(5)
	copy(d.Buffer, []byte("hello"))
	d.DestinationAddress = "127.0.0.1"
	d.DestinationPort = uint16(udpAddr.Port)

	n, err := tx.send(d)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	select {
	case pkt := <-rx.received:
		assert.Equal(t, []byte("hello"), pkt.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram on worker.received")
	}
}

func TestWorker_SubmitRunsOnLoopGoroutine(t *testing.T) {
	w := newTestWorker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	var bounded bool
	err := w.submit(context.Background(), func(w *worker) error {
		bounded = w.isBounded
		return nil
	})
	require.NoError(t, err)
	assert.False(t, bounded)
}
