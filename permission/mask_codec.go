package permission

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidMask = errors.New("invalid mask encoding")

// EncodeMask writes the mask big-endian: 8 bytes for Mask64, 16 for Mask128.
func EncodeMask(mask Mask) ([]byte, error) {
	switch m := mask.(type) {
	case *Mask64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(*m))
		return b, nil
	case *Mask128:
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[0:8], m.A)
		binary.BigEndian.PutUint64(b[8:16], m.B)
		return b, nil
	default:
		return nil, ErrInvalidMask
	}
}

// DecodeMask selects the mask width from the input length.
func DecodeMask(data []byte) (Mask, error) {
	switch len(data) {
	case 8:
		m := Mask64(binary.BigEndian.Uint64(data))
		return &m, nil
	case 16:
		return &Mask128{
			A: binary.BigEndian.Uint64(data[0:8]),
			B: binary.BigEndian.Uint64(data[8:16]),
		}, nil
	default:
		return nil, ErrInvalidMask
	}
}
