package frame

import "fmt"

// FromRGB packs a tightly packed 24-bit RGB image into a planar YUV420
// frame, using the fixed-point BT.601 full-range forward transform.
// Chroma is point-sampled from the top-left pixel of each 2x2 block.
// Used by the synthetic camera source and by tests.
func FromRGB(rgb []byte, width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("Invalid RGB image dimensions %v x %v (must be positive and even)", width, height)
	}
	if len(rgb) != width*height*3 {
		return nil, fmt.Errorf("RGB buffer is %v bytes, expected %v for %v x %v", len(rgb), width*height*3, width, height)
	}
	f := &Frame{
		Format: FormatYUV420Planar,
		Width:  width,
		Height: height,
		Y:      Plane{Data: make([]byte, width*height), RowStride: width, PixelStride: 1},
		U:      Plane{Data: make([]byte, width*height/4), RowStride: width / 2, PixelStride: 1},
		V:      Plane{Data: make([]byte, width*height/4), RowStride: width / 2, PixelStride: 1},
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := int(rgb[(y*width+x)*3])
			g := int(rgb[(y*width+x)*3+1])
			b := int(rgb[(y*width+x)*3+2])
			f.Y.Data[y*width+x] = byte((19595*r + 38470*g + 7471*b) >> 16)
		}
	}

	for y := 0; y < height/2; y++ {
		for x := 0; x < width/2; x++ {
			r := int(rgb[(y*2*width+x*2)*3])
			g := int(rgb[(y*2*width+x*2)*3+1])
			b := int(rgb[(y*2*width+x*2)*3+2])
			f.U.Data[y*width/2+x] = byte(((-11056*r - 21712*g + 32768*b) >> 16) + 128)
			f.V.Data[y*width/2+x] = byte(((32768*r - 27440*g - 5328*b) >> 16) + 128)
		}
	}

	return f, nil
}
