package permission

import (
	"errors"
	"sort"
	"sync"
)

// Registry maps page names to bit positions within a 64 or 128 bit mask.
type Registry struct {
	maxBits      int
	rootReserved bool
	rootBit      int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates a page [Registry]. maxBits selects the mask width;
// rootReserved keeps the highest bit for the administrator shortcut.
func NewRegistry(maxBits int, rootReserved bool) (*Registry, error) {
	if maxBits != 64 && maxBits != 128 {
		return nil, errors.New("invalid maxBits")
	}

	r := &Registry{
		maxBits:      maxBits,
		rootReserved: rootReserved,
		rootBit:      -1,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
	if rootReserved {
		r.rootBit = maxBits - 1
	}
	return r, nil
}

// Register assigns the next free bit to the named page.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if name == "" {
		return -1, errors.New("page name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("page already registered")
	}

	nextBit := len(r.nameToBit)
	if r.rootReserved && nextBit >= r.rootBit {
		return -1, errors.New("page limit exceeded (root bit reserved)")
	}
	if !r.rootReserved && nextBit >= r.maxBits {
		return -1, errors.New("page limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name
	return nextBit, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Width is the mask width in bits.
func (r *Registry) Width() int {
	return r.maxBits
}

// RootBit returns the reserved root bit, or false if reservation is disabled.
func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return r.rootBit, true
}

// Names lists the registered pages whose bits are set in mask, sorted.
// The root bit is not expanded.
func (r *Registry) Names(mask Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.nameToBit))
	for name, bit := range r.nameToBit {
		if mask.Has(bit, false) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
