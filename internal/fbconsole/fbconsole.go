// Package fbconsole is a framebuffer-backed diagnostic console: the boot
// banner and panic screen, rendered with github.com/fogleman/gg onto an
// RGBA backbuffer and blitted into whatever framebuffer the platform
// layer found (GOP, ramfb, or the BCM mailbox frame). It generalizes
// framebuffer_text.go's WritePixel/RenderChar8x8 software text renderer
// and gg_circle_qemu.go's gg-backed circle demo
// into one reusable sink instead of two one-off demos, and fans out
// behind internal/diag.Sink so serial and framebuffer output stay in
// sync automatically.
package fbconsole

import (
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// FrameBuffer is the physical sink a Console draws into. The aarch64
// build backs this with a raw pointer into mapped video memory
// (fb_aarch64.go); the host build backs it with a plain byte slice so
// tests can inspect what was drawn (fb_host.go).
type FrameBuffer interface {
	Width() int
	Height() int
	Blit(img *image.RGBA)
}

const (
	fontSize   = 14
	lineHeight = 18
	leftMargin = 8
	topMargin  = 16
)

// Console renders lines of text onto a FrameBuffer, scrolling once the
// cursor runs past the bottom the way a serial terminal does.
type Console struct {
	mu    sync.Mutex
	fb    FrameBuffer
	ctx   *gg.Context
	face  font.Face
	cursX int
	cursY int
}

// New builds a Console sized to fb's current dimensions and rasterizes
// the embedded Go regular face at fontSize through freetype, matching
// framebuffer_text.go's choice of a fixed small bitmap face but replacing the
// hand-rolled 8x8 bitmap table with real glyph rendering.
func New(fb FrameBuffer) (*Console, error) {
	w, h := fb.Width(), fb.Height()
	ctx := gg.NewContext(w, h)
	ctx.SetColor(color.Black)
	ctx.Clear()

	ttf, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	face := truetype.NewFace(ttf, &truetype.Options{Size: fontSize, DPI: 72})
	ctx.SetFontFace(face)

	c := &Console{fb: fb, ctx: ctx, face: face, cursX: leftMargin, cursY: topMargin}
	return c, nil
}

// WriteByte implements diag.Sink, handling '\n' as a line break and
// advancing the cursor for anything else.
func (c *Console) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeByteLocked(b)
	c.flushLocked()
	return nil
}

// WriteString implements diag.Sink, flushing once for the whole string
// instead of once per byte.
func (c *Console) WriteString(s string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < len(s); i++ {
		c.writeByteLocked(s[i])
	}
	c.flushLocked()
	return len(s), nil
}

func (c *Console) writeByteLocked(b byte) {
	if b == '\n' {
		c.cursX = leftMargin
		c.cursY += lineHeight
		c.scrollIfNeeded()
		return
	}
	c.ctx.SetColor(color.White)
	c.ctx.DrawString(string(rune(b)), float64(c.cursX), float64(c.cursY))
	w, _ := c.ctx.MeasureString(string(rune(b)))
	c.cursX += int(w)
	if c.cursX > c.fb.Width()-leftMargin {
		c.cursX = leftMargin
		c.cursY += lineHeight
		c.scrollIfNeeded()
	}
}

func (c *Console) scrollIfNeeded() {
	if c.cursY < c.fb.Height() {
		return
	}
	img := c.ctx.Image().(*image.RGBA)
	shifted := image.NewRGBA(img.Bounds())
	off := lineHeight * img.Bounds().Dx() * 4
	copy(shifted.Pix, img.Pix[off:])
	c.ctx = gg.NewContextForRGBA(shifted)
	c.ctx.SetFontFace(c.face)
	c.cursY -= lineHeight
}

func (c *Console) flushLocked() {
	c.fb.Blit(c.ctx.Image().(*image.RGBA))
}

// Panic clears the console to a red background and writes msg across
// it, the framebuffer equivalent of diag.Panic's fatal UART banner.
func (c *Console) Panic(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx.SetColor(color.RGBA{R: 0x8B, G: 0, B: 0, A: 0xFF})
	c.ctx.Clear()
	c.ctx.SetColor(color.White)
	c.cursX, c.cursY = leftMargin, topMargin
	for i := 0; i < len(msg); i++ {
		c.writeByteLocked(msg[i])
	}
	c.flushLocked()
}
