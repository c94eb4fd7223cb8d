package media

import (
	"context"
	"fmt"
	"strings"
)

// Composite canvas layout.
const (
	// CanvasWidth is the width of the fixed composite canvas.
	CanvasWidth = 5760
	// CanvasHeight is the height of the fixed composite canvas.
	CanvasHeight = 1080
	// StitchedQuadrants is the number of quadrants kept per frame.
	StitchedQuadrants = 3
)

// CanvasPolicy decides how the composite canvas relates to the source size.
type CanvasPolicy string

const (
	// CanvasNative sizes the canvas to the stitched quadrants: 3*(W/2) x H/2.
	CanvasNative CanvasPolicy = "native"
	// CanvasStrict rejects sources whose stitched size is not CanvasWidth x CanvasHeight.
	CanvasStrict CanvasPolicy = "strict"
	// CanvasFixed always outputs CanvasWidth x CanvasHeight. The stitched frame
	// is anchored top-left on black and shrunk to fit when it is larger.
	CanvasFixed CanvasPolicy = "fixed"
)

// IsValid returns true if the policy is known.
func (c CanvasPolicy) IsValid() bool {
	return c == CanvasNative || c == CanvasStrict || c == CanvasFixed
}

// Geometry describes a composited output stream.
type Geometry struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int
}

// Quadrants holds the crop layout for one source size.
type Quadrants struct {
	// Width and Height of a single quadrant, floored to even numbers
	// because yuv420p needs even sides.
	Width  int
	Height int
	// OffsetX and OffsetY are the split points W/2 and H/2.
	OffsetX int
	OffsetY int
}

// SplitQuadrants computes the quadrant layout for a w x h frame.
func SplitQuadrants(w, h int) Quadrants {
	return Quadrants{
		Width:   (w / 2) &^ 1,
		Height:  (h / 2) &^ 1,
		OffsetX: w / 2,
		OffsetY: h / 2,
	}
}

// StitchedSize returns the size of the three quadrants placed side by side.
func (q Quadrants) StitchedSize() (int, int) {
	return StitchedQuadrants * q.Width, q.Height
}

// FitCanvas returns the size of a w x h frame once placed on the fixed
// canvas: unchanged when it fits, otherwise scaled down keeping its ratio.
func FitCanvas(w, h int) (int, int) {
	if w <= CanvasWidth && h <= CanvasHeight {
		return w, h
	}
	scale := min(float64(CanvasWidth)/float64(w), float64(CanvasHeight)/float64(h))
	fw := int(float64(w)*scale) &^ 1
	fh := int(float64(h)*scale) &^ 1
	return max(fw, 2), max(fh, 2)
}

// filterGraph builds the crop + hstack graph, in output order
// top-left, top-right, bottom-left.
func (q Quadrants) filterGraph(canvas CanvasPolicy) string {
	stack := "[tl][tr][bl]hstack=inputs=3"
	if canvas == CanvasFixed {
		fw, fh := FitCanvas(q.StitchedSize())
		sw, sh := q.StitchedSize()
		if fw != sw || fh != sh {
			stack += fmt.Sprintf(",scale=%d:%d", fw, fh)
		}
		stack += fmt.Sprintf(",pad=%d:%d:0:0:black", CanvasWidth, CanvasHeight)
	}

	parts := []string{
		"[0:v]split=3[s0][s1][s2]",
		fmt.Sprintf("[s0]crop=%d:%d:0:0[tl]", q.Width, q.Height),
		fmt.Sprintf("[s1]crop=%d:%d:%d:0[tr]", q.Width, q.Height, q.OffsetX),
		fmt.Sprintf("[s2]crop=%d:%d:0:%d[bl]", q.Width, q.Height, q.OffsetY),
		stack + ",format=yuv420p[out]",
	}
	return strings.Join(parts, ";")
}

// Compose writes the quadrant composite of src to dst.
// The stream is encoded as MPEG-4 part 2 with the mp4v tag, without audio,
// and frames are passed through one-to-one.
func (p *FFmpegProcessor) Compose(ctx context.Context, src, dst string) (Geometry, error) {
	info, err := p.Probe(ctx, src)
	if err != nil {
		return Geometry{}, err
	}
	if info.FrameCount == 0 {
		return Geometry{}, fmt.Errorf("%w: source has no video frames", ErrDecode)
	}
	if info.Width < 4 || info.Height < 4 {
		return Geometry{}, fmt.Errorf("%w: source too small: %dx%d", ErrDecode, info.Width, info.Height)
	}

	q := SplitQuadrants(info.Width, info.Height)
	w, h := q.StitchedSize()

	switch p.canvas {
	case CanvasStrict:
		if w != CanvasWidth || h != CanvasHeight {
			return Geometry{}, fmt.Errorf("%w: %w: stitched %dx%d, canvas is %dx%d",
				ErrInvalidDimension, ErrCanvasMismatch, w, h, CanvasWidth, CanvasHeight)
		}
	case CanvasFixed:
		w, h = CanvasWidth, CanvasHeight
	}

	args := []string{
		"-y",
		"-i", src,
		"-filter_complex", q.filterGraph(p.canvas),
		"-map", "[out]",
		"-an",
		"-c:v", "mpeg4",
		"-tag:v", "mp4v",
		"-q:v", "2",
		"-fps_mode", "passthrough",
		dst,
	}

	if err := p.runFFmpeg(ctx, args); err != nil {
		return Geometry{}, fmt.Errorf("%w: compose: %w", ErrEncode, err)
	}

	return Geometry{
		Width:      w,
		Height:     h,
		FrameRate:  info.FrameRate,
		FrameCount: info.FrameCount,
	}, nil
}
