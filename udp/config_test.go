package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastListeningGroups["239.1.1.1"] = struct{}{}

	clone := cfg.clone()
	clone.MulticastListeningGroups["239.2.2.2"] = struct{}{}

	assert.Len(t, cfg.MulticastListeningGroups, 1, "mutating the clone must not affect the original")
	assert.Len(t, clone.MulticastListeningGroups, 2)
}

func TestBindingEqual(t *testing.T) {
	base := DefaultConfig()
	same := base.clone()
	assert.True(t, bindingEqual(base, same))

	changedPort := base.clone()
	changedPort.RxPort = base.RxPort + 1
	assert.False(t, bindingEqual(base, changedPort))

	changedGroups := base.clone()
	changedGroups.MulticastListeningGroups["239.1.1.1"] = struct{}{}
	assert.True(t, bindingEqual(base, changedGroups), "group membership must not affect binding equality")
}

func TestDefaultConfig_Timings(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultWatchdogPeriod, cfg.WatchdogPeriod)
	assert.Equal(t, DefaultMulticastTxIdleTeardown, cfg.MulticastTxIdleTeardown)
	assert.True(t, cfg.InputEnabled)
}
