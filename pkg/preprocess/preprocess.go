package preprocess

import (
	"fmt"

	"github.com/sightlineapp/sightline/pkg/frame"
	"github.com/sightlineapp/sightline/pkg/perceive"
)

// Package preprocess converts a raw planar YUV420 frame into the tensor a
// model declared as its input. Every destination pixel is sampled directly
// from the source planes (nearest neighbor), so memory is bounded by the
// output tensor size: there is never a full-resolution RGB intermediate.

// Normalization re-centers and scales float tensors per channel.
// Applied after the [0,1] scaling.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the usual mean/stddev pair for models trained on ImageNet.
// It is one configuration among many, not a special case.
var ImageNet = &Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

type Options struct {
	TargetSize int                 // Output is TargetSize x TargetSize x 3
	DType      perceive.TensorType // TensorU8 for quantized models, TensorF32 otherwise
	Norm       *Normalization      // Optional, float output only. nil = plain [0,1]
}

// Fixed-point BT.601 full-range YUV -> RGB coefficients (16-bit shift).
// These are the exact inverse pair of the forward coefficients used by
// frame.FromRGB, which bounds round-trip error to about 2 per channel.
const (
	coefRV = 91881  // 1.402
	coefGU = 22554  // 0.344136
	coefGV = 46802  // 0.714136
	coefBU = 116130 // 1.772
)

// Preprocess samples the frame into a TargetSize x TargetSize x 3 tensor,
// row-major, channel-last. Mirroring (if requested) is applied first, then
// rotation, both as fixed coordinate-swap rules on the sampling side.
func Preprocess(f *frame.Frame, opt Options) (*perceive.Tensor, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	size := opt.TargetSize
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %v", size)
	}

	// Logical dimensions of the image after mirror + rotation
	logicalW, logicalH := f.Width, f.Height
	if f.Rotation == 90 || f.Rotation == 270 {
		logicalW, logicalH = f.Height, f.Width
	}

	t := &perceive.Tensor{
		DType:    opt.DType,
		Width:    size,
		Height:   size,
		Channels: 3,
	}
	switch opt.DType {
	case perceive.TensorU8:
		t.U8 = make([]byte, size*size*3)
	case perceive.TensorF32:
		t.F32 = make([]float32, size*size*3)
	default:
		return nil, fmt.Errorf("invalid tensor dtype %v", opt.DType)
	}

	for dy := 0; dy < size; dy++ {
		ly := dy * logicalH / size
		for dx := 0; dx < size; dx++ {
			lx := dx * logicalW / size

			// Invert the rotation: find the pixel in the mirrored image
			// that lands at (lx, ly) after rotating clockwise.
			var mx, my int
			switch f.Rotation {
			case 0:
				mx, my = lx, ly
			case 90:
				mx, my = ly, f.Height-1-lx
			case 180:
				mx, my = f.Width-1-lx, f.Height-1-ly
			case 270:
				mx, my = f.Width-1-ly, lx
			}

			// Invert the horizontal mirror
			px, py := mx, my
			if f.Mirror {
				px = f.Width - 1 - mx
			}

			yv := int32(f.Y.Sample(px, py))
			uv := int32(f.U.Sample(px/2, py/2)) - 128
			vv := int32(f.V.Sample(px/2, py/2)) - 128

			r := yv + (coefRV*vv)>>16
			g := yv - (coefGU*uv+coefGV*vv)>>16
			b := yv + (coefBU*uv)>>16
			r = clamp255(r)
			g = clamp255(g)
			b = clamp255(b)

			di := (dy*size + dx) * 3
			if opt.DType == perceive.TensorU8 {
				t.U8[di] = byte(r)
				t.U8[di+1] = byte(g)
				t.U8[di+2] = byte(b)
			} else {
				fr := float32(r) / 255
				fg := float32(g) / 255
				fb := float32(b) / 255
				if opt.Norm != nil {
					fr = (fr - opt.Norm.Mean[0]) / opt.Norm.Std[0]
					fg = (fg - opt.Norm.Mean[1]) / opt.Norm.Std[1]
					fb = (fb - opt.Norm.Mean[2]) / opt.Norm.Std[2]
				}
				t.F32[di] = fr
				t.F32[di+1] = fg
				t.F32[di+2] = fb
			}
		}
	}

	return t, nil
}

func clamp255(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// ForModel returns the preprocessing options matching a model's declared
// input contract. norm applies to float models only.
func ForModel(cfg *perceive.ModelConfig, norm *Normalization) (Options, error) {
	if cfg.Width != cfg.Height {
		return Options{}, fmt.Errorf("model %v wants %vx%v input, only square inputs are supported", cfg.Architecture, cfg.Width, cfg.Height)
	}
	opt := Options{TargetSize: cfg.Width, DType: cfg.DType}
	if cfg.DType == perceive.TensorF32 {
		opt.Norm = norm
	}
	return opt, nil
}
