package permission

// Mask is a fixed-width page bitmask. When rootReserved is true the highest
// bit grants every page.
type Mask interface {
	Has(bit int, rootReserved bool) bool
	Set(bit int)
	Clear(bit int)
	Width() int
}

// Mask64 covers up to 64 pages.
type Mask64 uint64

func (m *Mask64) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if rootReserved && (*m&(1<<63)) != 0 {
		return true
	}
	return (*m & (1 << bit)) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= (1 << bit)
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= (1 << bit)
}

func (m *Mask64) Width() int { return 64 }

// Mask128 covers up to 128 pages. A holds bits 0-63, B holds 64-127.
type Mask128 struct {
	A uint64
	B uint64
}

func (m *Mask128) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 128 {
		return false
	}
	if rootReserved && (m.B&(1<<63)) != 0 {
		return true
	}
	if bit < 64 {
		return (m.A & (1 << bit)) != 0
	}
	return (m.B & (1 << (bit - 64))) != 0
}

func (m *Mask128) Set(bit int) {
	if bit < 0 || bit >= 128 {
		return
	}
	if bit < 64 {
		m.A |= (1 << bit)
	} else {
		m.B |= (1 << (bit - 64))
	}
}

func (m *Mask128) Clear(bit int) {
	if bit < 0 || bit >= 128 {
		return
	}
	if bit < 64 {
		m.A &^= (1 << bit)
	} else {
		m.B &^= (1 << (bit - 64))
	}
}

func (m *Mask128) Width() int { return 128 }

func newMask(width int) Mask {
	if width == 128 {
		return &Mask128{}
	}
	m := Mask64(0)
	return &m
}

// union sets in dst every bit that is set in src.
func union(dst, src Mask) {
	for bit := 0; bit < src.Width(); bit++ {
		if src.Has(bit, false) {
			dst.Set(bit)
		}
	}
}
