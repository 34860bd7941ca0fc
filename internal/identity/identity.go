// Package identity derives the per-process stamp attached to every record.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// FromHost builds the process identity: DataCenter is the hex MD5 of the
// first non-loopback hardware address, ProcessID a random UUID.
func FromHost() (domain.Identity, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity: list interfaces: %w", err)
	}
	mac, err := firstHardwareAddr(ifaces)
	if err != nil {
		return domain.Identity{}, err
	}
	return New(mac), nil
}

// New builds an identity from an explicit hardware address.
func New(mac net.HardwareAddr) domain.Identity {
	sum := md5.Sum(mac)
	return domain.Identity{
		DataCenter: hex.EncodeToString(sum[:]),
		ProcessID:  uuid.NewString(),
	}
}

func firstHardwareAddr(ifaces []net.Interface) (net.HardwareAddr, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, fmt.Errorf("identity: no hardware address: %w", domain.ErrNotFound)
}
