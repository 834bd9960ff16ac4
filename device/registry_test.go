package device_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/device"
)

func testConfig(t *testing.T) config.Config {
	cfg, err := config.NewBuilder().WithCapacity(4096).Build()
	require.NoError(t, err)
	return cfg
}

func TestRegistryActivateAndGet(t *testing.T) {
	r := device.NewRegistry()
	cfg := testConfig(t)

	d, err := r.Activate("pmbd0", cfg)
	require.NoError(t, err)
	require.Same(t, d, r.Get("pmbd0"))
	require.ElementsMatch(t, []string{"pmbd0"}, r.Names())

	require.NoError(t, r.Deactivate("pmbd0"))
	require.Nil(t, r.Get("pmbd0"))
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := device.NewRegistry()
	cfg := testConfig(t)

	_, err := r.Activate("pmbd0", cfg)
	require.NoError(t, err)
	defer r.Deactivate("pmbd0")

	_, err = r.Activate("pmbd0", cfg)
	require.Error(t, err)
}

func TestRegistryDeactivateUnknownFails(t *testing.T) {
	r := device.NewRegistry()
	require.Error(t, r.Deactivate("nope"))
}
