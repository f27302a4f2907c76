package frame

import "fmt"

// Package frame describes raw camera frames as the pipeline borrows them:
// read-only, for the duration of one preprocessing pass. The format is a
// closed union: planar YUV 4:2:0 today, with room for explicit new
// variants later, never runtime type inspection.

type Format int

const (
	// FormatYUV420Planar is one full-resolution luma plane and two
	// quarter-resolution chroma planes, each with its own row stride and
	// pixel stride (pixel stride > 1 covers semi-planar camera buffers).
	FormatYUV420Planar Format = iota
)

// Plane is one byte plane of a planar image.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is a single raw camera frame. Produced by the camera collaborator,
// never mutated by the pipeline.
type Frame struct {
	Format   Format
	Width    int
	Height   int
	Rotation int  // Degrees, one of 0/90/180/270
	Mirror   bool // Horizontal mirror, applied before rotation
	Y        Plane
	U        Plane
	V        Plane
}

// UnsupportedFormatError means the frame's plane layout is not the
// supported planar YUV420 layout. The frame is rejected and the scheduler
// proceeds to the next one.
type UnsupportedFormatError struct {
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return "unsupported frame format: " + e.Reason
}

// Validate checks the frame against the single supported layout.
func (f *Frame) Validate() error {
	if f.Format != FormatYUV420Planar {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("format %v", f.Format)}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("dimensions %vx%v", f.Width, f.Height)}
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return &UnsupportedFormatError{Reason: "odd dimensions for 4:2:0 subsampling"}
	}
	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return &UnsupportedFormatError{Reason: fmt.Sprintf("rotation %v", f.Rotation)}
	}
	if err := checkPlane("Y", &f.Y, f.Width, f.Height); err != nil {
		return err
	}
	if err := checkPlane("U", &f.U, f.Width/2, f.Height/2); err != nil {
		return err
	}
	if err := checkPlane("V", &f.V, f.Width/2, f.Height/2); err != nil {
		return err
	}
	return nil
}

func checkPlane(name string, p *Plane, width, height int) error {
	if p.Data == nil {
		return &UnsupportedFormatError{Reason: name + " plane missing"}
	}
	if p.PixelStride < 1 {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("%v plane pixel stride %v", name, p.PixelStride)}
	}
	if p.RowStride < width*p.PixelStride {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("%v plane row stride %v too small for width %v", name, p.RowStride, width)}
	}
	// The last row need not be padded out to a full stride
	need := (height-1)*p.RowStride + (width-1)*p.PixelStride + 1
	if len(p.Data) < need {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("%v plane has %v bytes, need %v", name, len(p.Data), need)}
	}
	return nil
}

// Sample returns the byte at pixel (x, y) of a plane.
func (p *Plane) Sample(x, y int) byte {
	return p.Data[y*p.RowStride+x*p.PixelStride]
}
