package persistence

import "sync"

// MemoryStore keeps the image in RAM only.
type MemoryStore struct {
	mu    sync.RWMutex
	image [EEPROMSize]byte
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.image {
		s.image[i] = Erased
	}

	return s
}

func (s *MemoryStore) ReadConfig(addr int) byte {
	if !inImage(addr) {
		return Erased
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.image[addr]
}

func (s *MemoryStore) WriteConfig(addr int, v byte) {
	if !inImage(addr) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image[addr] = v
}

func (s *MemoryStore) ReadConfigBlock(dst []byte, addr int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range dst {
		if inImage(addr + i) {
			dst[i] = s.image[addr+i]
		} else {
			dst[i] = Erased
		}
	}
}

func (s *MemoryStore) WriteConfigBlock(src []byte, addr int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range src {
		if inImage(addr + i) {
			s.image[addr+i] = v
		}
	}
}

// Dump returns a copy of the image.
func (s *MemoryStore) Dump() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]byte(nil), s.image[:]...)
}
