//go:build !aarch64

package fbconsole

import "image"

// MemFrameBuffer is a host-testable FrameBuffer: a plain byte slice
// standing in for mapped video memory, so tests can assert on exactly
// the pixels a Console drew.
type MemFrameBuffer struct {
	width, height int
	Pix           []byte // tightly packed RGBA, row-major
}

func NewMemFrameBuffer(width, height int) *MemFrameBuffer {
	return &MemFrameBuffer{width: width, height: height, Pix: make([]byte, width*height*4)}
}

func (f *MemFrameBuffer) Width() int  { return f.width }
func (f *MemFrameBuffer) Height() int { return f.height }

func (f *MemFrameBuffer) Blit(img *image.RGBA) {
	copy(f.Pix, img.Pix)
}
