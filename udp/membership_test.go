package udp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_JoinGroupRejectsNonMulticast(t *testing.T) {
	w := newTestWorker()
	w.cfg = DefaultConfig()

	err := w.joinGroup("127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, w.cfg.MulticastListeningGroups)
}

func TestWorker_JoinGroupRejectsGarbage(t *testing.T) {
	w := newTestWorker()
	w.cfg = DefaultConfig()

	err := w.joinGroup("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, w.cfg.MulticastListeningGroups)
}

func TestWorker_JoinGroupWhileUnboundOnlyRecordsIntent(t *testing.T) {
	w := newTestWorker()
	w.cfg = DefaultConfig()

	require.NoError(t, w.joinGroup("239.1.2.3"))
	_, ok := w.cfg.MulticastListeningGroups["239.1.2.3"]
	assert.True(t, ok)
	assert.Empty(t, w.joinedGroups)
}

func TestWorker_JoinGroupOnInterfaceNilSocketIsSafe(t *testing.T) {
	w := newTestWorker()
	w.cfg = DefaultConfig()
	w.joinedGroups = map[string]map[string]struct{}{}
	w.failedGroups = map[string]map[string]struct{}{}
	w.state = stateBound
	// rxSock and txSock are both nil here, simulating the window after a
	// watchdog-triggered doStop but before the next doStart completes.

	ifs, err := net.Interfaces()
	require.NoError(t, err)
	require.NotEmpty(t, ifs)

	assert.NotPanics(t, func() {
		w.joinGroupOnInterface("239.1.2.3", ifs[0].Name)
	})
	_, failed := w.failedGroups[ifs[0].Name]
	assert.True(t, failed)
	assert.Empty(t, w.joinedGroups)
}

func TestWorker_JoinLeaveGroupLoopback(t *testing.T) {
	w := newTestWorker()
	cfg := DefaultConfig()
	cfg.RxAddress = ""
	cfg.RxPort = 0
	cfg.MulticastLoopback = true
	require.NoError(t, w.doStart(cfg))
	t.Cleanup(w.doStop)

	require.NoError(t, w.joinGroup("239.5.6.7"))
	found := false
	for _, groups := range w.joinedGroups {
		if _, ok := groups["239.5.6.7"]; ok {
			found = true
		}
	}
	assert.True(t, found)
	assert.Contains(t, w.joinedGroupsList(), "239.5.6.7")

	w.leaveGroup("239.5.6.7")
	assert.NotContains(t, w.joinedGroupsList(), "239.5.6.7")
	_, stillConfigured := w.cfg.MulticastListeningGroups["239.5.6.7"]
	assert.False(t, stillConfigured)
}

func TestWorker_JoinInterfaceGuardsUnbound(t *testing.T) {
	w := newTestWorker()
	w.cfg = DefaultConfig()
	w.state = stateIdle

	ifs, err := net.Interfaces()
	require.NoError(t, err)
	require.NotEmpty(t, ifs)

	assert.NotPanics(t, func() {
		w.joinInterface(ifs[0].Name)
	})
	_, pinned := w.cfg.MulticastListeningInterfaces[ifs[0].Name]
	assert.True(t, pinned)
}
