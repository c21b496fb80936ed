package fbconsole

import "testing"

func TestNewDrawsOntoABlankFrame(t *testing.T) {
	fb := NewMemFrameBuffer(200, 80)
	c, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blank := true
	for _, b := range fb.Pix {
		if b != 0 {
			blank = false
			break
		}
	}
	_ = c
	if !blank {
		t.Fatalf("expected a freshly-built console to leave the frame blank before any write")
	}
}

func TestWriteStringPaintsNonBlankPixels(t *testing.T) {
	fb := NewMemFrameBuffer(200, 80)
	c, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.WriteString("hello\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	nonZero := false
	for _, b := range fb.Pix {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("expected writing text to paint at least one non-zero pixel")
	}
}

func TestWriteByteImplementsDiagSink(t *testing.T) {
	fb := NewMemFrameBuffer(100, 40)
	c, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var sink interface {
		WriteByte(byte) error
		WriteString(string) (int, error)
	} = c
	if err := sink.WriteByte('A'); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
}

func TestPanicPaintsRedBackground(t *testing.T) {
	fb := NewMemFrameBuffer(100, 40)
	c, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Panic("kernel panic: nil pointer")
	// The top-left corner is background, not glyph ink; it should carry
	// the dark-red fill color rather than black or white.
	r, g, b := fb.Pix[0], fb.Pix[1], fb.Pix[2]
	if r == 0 && g == 0 && b == 0 {
		t.Fatalf("expected a red panic background, frame is still black")
	}
	if g != 0 || b != 0 {
		t.Fatalf("expected a pure red background, got g=%d b=%d", g, b)
	}
}
