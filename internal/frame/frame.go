package frame

import "fmt"

// bytesPerPixel is the storage per pixel (RGB, no alpha).
const bytesPerPixel = 3

// Frame is a fixed-size RGB pixel buffer for one display device.
//
// Scenes draw into a frame during their render step; the scheduler hands the
// finished frame to the device driver for pushing. A Frame is not safe for
// concurrent use - within one device, render cycles are strictly sequential,
// so each frame has exactly one writer at a time.
type Frame struct {
	width  int
	height int
	pix    []byte
}

// New creates a zeroed (all-black) frame of the given dimensions.
// Panics on non-positive dimensions; canvas sizes are validated at the
// device boundary long before a frame is allocated.
func New(width, height int) *Frame {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("frame: invalid dimensions %dx%d", width, height))
	}
	return &Frame{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*bytesPerPixel),
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Bytes returns the raw RGB buffer, row-major, 3 bytes per pixel.
// The returned slice aliases the frame's storage; callers that need an
// independent copy should use Clone.
func (f *Frame) Bytes() []byte { return f.pix }

// SetPixel sets the pixel at (x, y). Out-of-bounds coordinates are ignored
// so scenes can draw partially visible content without bounds arithmetic.
func (f *Frame) SetPixel(x, y int, r, g, b byte) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return
	}
	i := (y*f.width + x) * bytesPerPixel
	f.pix[i] = r
	f.pix[i+1] = g
	f.pix[i+2] = b
}

// At returns the pixel at (x, y). Out-of-bounds coordinates return black.
func (f *Frame) At(x, y int) (r, g, b byte) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return 0, 0, 0
	}
	i := (y*f.width + x) * bytesPerPixel
	return f.pix[i], f.pix[i+1], f.pix[i+2]
}

// Fill sets every pixel to the given colour.
func (f *Frame) Fill(r, g, b byte) {
	for i := 0; i < len(f.pix); i += bytesPerPixel {
		f.pix[i] = r
		f.pix[i+1] = g
		f.pix[i+2] = b
	}
}

// Clear sets every pixel to black.
func (f *Frame) Clear() {
	for i := range f.pix {
		f.pix[i] = 0
	}
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	cpy := &Frame{
		width:  f.width,
		height: f.height,
		pix:    make([]byte, len(f.pix)),
	}
	copy(cpy.pix, f.pix)
	return cpy
}

// DiffCount returns the number of pixels that differ between two frames of
// equal dimensions. Frames of different dimensions count as fully changed.
// Drivers use this to report changed-pixel counts without protocol support.
func (f *Frame) DiffCount(other *Frame) int {
	if other == nil || f.width != other.width || f.height != other.height {
		return f.width * f.height
	}
	count := 0
	for i := 0; i < len(f.pix); i += bytesPerPixel {
		if f.pix[i] != other.pix[i] || f.pix[i+1] != other.pix[i+1] || f.pix[i+2] != other.pix[i+2] {
			count++
		}
	}
	return count
}
