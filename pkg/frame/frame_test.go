package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validFrame(width, height int) *Frame {
	return &Frame{
		Format: FormatYUV420Planar,
		Width:  width,
		Height: height,
		Y:      Plane{Data: make([]byte, width*height), RowStride: width, PixelStride: 1},
		U:      Plane{Data: make([]byte, width*height/4), RowStride: width / 2, PixelStride: 1},
		V:      Plane{Data: make([]byte, width*height/4), RowStride: width / 2, PixelStride: 1},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validFrame(64, 48).Validate())

	// Semi-planar style chroma (pixel stride 2) is also a legal layout
	f := validFrame(64, 48)
	f.U = Plane{Data: make([]byte, 64*48/2), RowStride: 64, PixelStride: 2}
	f.V = Plane{Data: make([]byte, 64*48/2), RowStride: 64, PixelStride: 2}
	require.NoError(t, f.Validate())

	f = validFrame(64, 48)
	f.Rotation = 45
	require.Error(t, f.Validate())

	f = validFrame(64, 48)
	f.U.Data = nil
	require.Error(t, f.Validate())

	f = validFrame(64, 48)
	f.Y.Data = f.Y.Data[:len(f.Y.Data)-2]
	require.Error(t, f.Validate())

	f = validFrame(63, 48)
	f.Y.Data = make([]byte, 63*48)
	require.Error(t, f.Validate())

	var formatErr *UnsupportedFormatError
	f = validFrame(64, 48)
	f.Rotation = 13
	require.ErrorAs(t, f.Validate(), &formatErr)
}

func TestFromRGB(t *testing.T) {
	rgb := make([]byte, 4*2*3)
	// Left half red, right half blue
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				rgb[(y*4+x)*3] = 255
			} else {
				rgb[(y*4+x)*3+2] = 255
			}
		}
	}
	f, err := FromRGB(rgb, 4, 2)
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	// Red luma is noticeably brighter than blue luma
	require.Greater(t, f.Y.Sample(0, 0), f.Y.Sample(3, 0))
	// Red has V above center, blue has V below
	require.Greater(t, f.V.Sample(0, 0), byte(128))
	require.Less(t, f.V.Sample(1, 0), byte(128))
}

func TestFromRGBRejectsBadInput(t *testing.T) {
	// Buffer length must be exactly width*height*3
	_, err := FromRGB(make([]byte, 10), 4, 2)
	require.Error(t, err)

	// Odd dimensions cannot carry 2x2 subsampled chroma
	_, err = FromRGB(make([]byte, 3*2*3), 3, 2)
	require.Error(t, err)
	_, err = FromRGB(make([]byte, 4*3*3), 4, 3)
	require.Error(t, err)

	_, err = FromRGB(nil, 0, 0)
	require.Error(t, err)
}
