package preprocess

import (
	"fmt"
	"testing"

	"github.com/sightlineapp/sightline/pkg/frame"
	"github.com/sightlineapp/sightline/pkg/perceive"
	"github.com/stretchr/testify/require"
)

// Left half red, right half blue
func redBlueFrame(t *testing.T, width, height int) *frame.Frame {
	t.Helper()
	rgb := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				rgb[(y*width+x)*3] = 255
			} else {
				rgb[(y*width+x)*3+2] = 255
			}
		}
	}
	f, err := frame.FromRGB(rgb, width, height)
	require.NoError(t, err)
	return f
}

func uniformFrame(t *testing.T, width, height int, r, g, b byte) *frame.Frame {
	t.Helper()
	rgb := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		rgb[i*3] = r
		rgb[i*3+1] = g
		rgb[i*3+2] = b
	}
	f, err := frame.FromRGB(rgb, width, height)
	require.NoError(t, err)
	return f
}

func pixelAt(t *perceive.Tensor, x, y int) (byte, byte, byte) {
	i := (y*t.Width + x) * 3
	return t.U8[i], t.U8[i+1], t.U8[i+2]
}

func TestOutputShape(t *testing.T) {
	// S x S x 3 for any source resolution, rotation or mirror
	for _, size := range []int{32, 224, 320} {
		for _, rotation := range []int{0, 90, 180, 270} {
			for _, mirror := range []bool{false, true} {
				f := redBlueFrame(t, 64, 48)
				f.Rotation = rotation
				f.Mirror = mirror
				tensor, err := Preprocess(f, Options{TargetSize: size, DType: perceive.TensorU8})
				require.NoError(t, err)
				require.Equal(t, size*size*3, len(tensor.U8))
				require.Equal(t, size*size*3, tensor.NumElements())
			}
		}
	}
}

func TestRotationAndMirror(t *testing.T) {
	isRed := func(r, g, b byte) bool { return r > 200 && b < 40 }
	isBlue := func(r, g, b byte) bool { return b > 200 && r < 40 }

	cases := []struct {
		rotation  int
		mirror    bool
		redAt     [2]int // dest pixel expected red
		blueAt    [2]int // dest pixel expected blue
		comment   string
	}{
		{0, false, [2]int{0, 0}, [2]int{7, 0}, "red stays left"},
		{90, false, [2]int{0, 0}, [2]int{0, 7}, "left column rotates to top"},
		{180, false, [2]int{7, 7}, [2]int{0, 7}, "red moves right"},
		{270, false, [2]int{0, 7}, [2]int{0, 0}, "left column rotates to bottom"},
		{0, true, [2]int{7, 0}, [2]int{0, 0}, "mirror swaps halves"},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("rot%v_mirror%v", c.rotation, c.mirror), func(t *testing.T) {
			f := redBlueFrame(t, 16, 8)
			f.Rotation = c.rotation
			f.Mirror = c.mirror
			tensor, err := Preprocess(f, Options{TargetSize: 8, DType: perceive.TensorU8})
			require.NoError(t, err)
			r, g, b := pixelAt(tensor, c.redAt[0], c.redAt[1])
			require.True(t, isRed(r, g, b), "%v: expected red at %v, got %v,%v,%v", c.comment, c.redAt, r, g, b)
			r, g, b = pixelAt(tensor, c.blueAt[0], c.blueAt[1])
			require.True(t, isBlue(r, g, b), "%v: expected blue at %v, got %v,%v,%v", c.comment, c.blueAt, r, g, b)
		})
	}
}

func TestColorRoundTrip(t *testing.T) {
	f := uniformFrame(t, 16, 16, 200, 100, 50)
	tensor, err := Preprocess(f, Options{TargetSize: 8, DType: perceive.TensorU8})
	require.NoError(t, err)
	for i := 0; i < 8*8; i++ {
		require.InDelta(t, 200, tensor.U8[i*3], 3)
		require.InDelta(t, 100, tensor.U8[i*3+1], 3)
		require.InDelta(t, 50, tensor.U8[i*3+2], 3)
	}
}

func TestFloatNormalization(t *testing.T) {
	f := uniformFrame(t, 8, 8, 128, 128, 128)

	// Plain [0,1] scaling
	tensor, err := Preprocess(f, Options{TargetSize: 4, DType: perceive.TensorF32})
	require.NoError(t, err)
	require.Equal(t, 4*4*3, len(tensor.F32))
	require.InDelta(t, 128.0/255.0, tensor.F32[0], 0.02)

	// ImageNet re-centering
	tensor, err = Preprocess(f, Options{TargetSize: 4, DType: perceive.TensorF32, Norm: ImageNet})
	require.NoError(t, err)
	expect := (128.0/255.0 - ImageNet.Mean[0]) / ImageNet.Std[0]
	require.InDelta(t, expect, tensor.F32[0], 0.05)
}

func TestRejectsBadFrames(t *testing.T) {
	f := redBlueFrame(t, 16, 8)
	f.U.Data = nil
	var formatErr *frame.UnsupportedFormatError
	_, err := Preprocess(f, Options{TargetSize: 8, DType: perceive.TensorU8})
	require.ErrorAs(t, err, &formatErr)

	f = redBlueFrame(t, 16, 8)
	f.Rotation = 33
	_, err = Preprocess(f, Options{TargetSize: 8, DType: perceive.TensorU8})
	require.ErrorAs(t, err, &formatErr)

	f = redBlueFrame(t, 16, 8)
	_, err = Preprocess(f, Options{TargetSize: 0, DType: perceive.TensorU8})
	require.Error(t, err)
}

func TestForModel(t *testing.T) {
	cfg := &perceive.ModelConfig{Architecture: "mobilenetv2", Width: 224, Height: 224, DType: perceive.TensorF32}
	opt, err := ForModel(cfg, ImageNet)
	require.NoError(t, err)
	require.Equal(t, 224, opt.TargetSize)
	require.Equal(t, ImageNet, opt.Norm)

	cfg = &perceive.ModelConfig{Architecture: "weird", Width: 224, Height: 128}
	_, err = ForModel(cfg, nil)
	require.Error(t, err)
}
