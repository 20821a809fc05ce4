package render

import (
	"encoding/binary"
	"hash/fnv"
	"image/color"
	"sync"
)

// Palette hands out one stable color per class for the lifetime of a model.
type Palette struct {
	mu     sync.Mutex
	colors map[int]color.RGBA
}

// NewPalette creates an empty palette.
func NewPalette() *Palette {
	return &Palette{colors: make(map[int]color.RGBA)}
}

// Color returns the cached color for classID, deriving it on first use.
func (p *Palette) Color(classID int) color.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.colors[classID]; ok {
		return c
	}
	c := classColor(classID)
	p.colors[classID] = c
	return c
}

// Reset forgets all assigned colors.
func (p *Palette) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.colors = make(map[int]color.RGBA)
}

// classColor maps a class id to a bright color. Channels stay in [100, 255]
// so black label text remains readable.
func classColor(classID int) color.RGBA {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(classID)))
	h := fnv.New32a()
	_, _ = h.Write(buf[:])
	sum := h.Sum32()

	return color.RGBA{
		R: uint8(100 + sum%156),
		G: uint8(100 + (sum>>8)%156),
		B: uint8(100 + (sum>>16)%156),
		A: 0xff,
	}
}
