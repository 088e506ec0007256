package persistence

import "strings"

// EEPROM image layout. The image is a flat byte array without header or
// versioning; unwritten cells read as Erased.
const (
	EEPROMSize = 512
	Erased     = 0xFF

	AddrNodeID           = 0
	AddrParentNodeID     = 1
	AddrDistance         = 2
	AddrControllerConfig = 3
	AddrLock             = 4
	AddrLockReason       = 5
	LockReasonSize       = 24

	AddrUserState = 256
	UserStateSize = 256

	lockMarker = 0xA5
)

// Store is byte-addressed non-volatile storage. Addresses outside the image
// read as Erased and writes to them are ignored.
type Store interface {
	ReadConfig(addr int) byte
	WriteConfig(addr int, v byte)
	ReadConfigBlock(dst []byte, addr int)
	WriteConfigBlock(src []byte, addr int)
}

// NodeConfig is the node identity assigned by registration.
type NodeConfig struct {
	NodeID       uint8
	ParentNodeID uint8
	Distance     uint8
}

// ControllerConfig holds settings pushed by the controller.
type ControllerConfig struct {
	IsMetric bool
}

func LoadNodeConfig(s Store) NodeConfig {
	var b [3]byte
	s.ReadConfigBlock(b[:], AddrNodeID)

	return NodeConfig{NodeID: b[0], ParentNodeID: b[1], Distance: b[2]}
}

func SaveNodeConfig(s Store, c NodeConfig) {
	s.WriteConfigBlock([]byte{c.NodeID, c.ParentNodeID, c.Distance}, AddrNodeID)
}

// LoadControllerConfig treats an erased cell as metric.
func LoadControllerConfig(s Store) ControllerConfig {
	return ControllerConfig{IsMetric: s.ReadConfig(AddrControllerConfig) != 0}
}

func SaveControllerConfig(s Store, c ControllerConfig) {
	var v byte
	if c.IsMetric {
		v = 1
	}
	s.WriteConfig(AddrControllerConfig, v)
}

// LockState reports whether a lock was persisted and the reason recorded
// with it.
func LockState(s Store) (bool, string) {
	if s.ReadConfig(AddrLock) != lockMarker {
		return false, ""
	}

	raw := make([]byte, LockReasonSize)
	s.ReadConfigBlock(raw, AddrLockReason)
	if i := strings.IndexByte(string(raw), Erased); i >= 0 {
		raw = raw[:i]
	}

	return true, strings.TrimRight(string(raw), "\x00")
}

func SetLocked(s Store, reason string) {
	raw := make([]byte, LockReasonSize)
	for i := range raw {
		raw[i] = Erased
	}
	copy(raw, reason)
	s.WriteConfigBlock(raw, AddrLockReason)
	s.WriteConfig(AddrLock, lockMarker)
}

// ClearLock is the out-of-band unlock.
func ClearLock(s Store) {
	s.WriteConfig(AddrLock, Erased)
}

// LoadState reads one byte of the user state region.
func LoadState(s Store, pos uint8) uint8 {
	return s.ReadConfig(AddrUserState + int(pos))
}

func SaveState(s Store, pos uint8, v uint8) {
	s.WriteConfig(AddrUserState+int(pos), v)
}

func inImage(addr int) bool {
	return addr >= 0 && addr < EEPROMSize
}
