package identity

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

func TestNewHashesMAC(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	a := New(mac)
	b := New(mac)

	assert.Len(t, a.DataCenter, 32)
	assert.Equal(t, a.DataCenter, b.DataCenter)
	assert.NotEqual(t, a.ProcessID, b.ProcessID)
	_, err := uuid.Parse(a.ProcessID)
	require.NoError(t, err)
}

func TestFirstHardwareAddrSkipsLoopback(t *testing.T) {
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback, HardwareAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6}},
		{Name: "tun0"},
		{Name: "eth0", HardwareAddr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
	}
	mac, err := firstHardwareAddr(ifaces)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", mac.String())

	_, err = firstHardwareAddr(ifaces[:2])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
