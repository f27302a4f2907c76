package orchestrator

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
	"github.com/sightlineapp/sightline/pkg/perceive"
	"github.com/sightlineapp/sightline/pkg/preprocess"
)

// maybeDumpFrame writes the first preprocessed tensor per variant to a
// JPEG in the working directory, with detection boxes drawn on top. One
// dump per variant per session, for eyeballing the preprocessing chain.
func (o *Orchestrator) maybeDumpFrame(t *perceive.Tensor, norm *preprocess.Normalization, objects []DetectedObject, variant string) {
	if !o.cfg.DebugDumpFrames {
		return
	}
	o.dumpLock.Lock()
	if o.hasDumpedFrame[variant] {
		o.dumpLock.Unlock()
		return
	}
	o.hasDumpedFrame[variant] = true
	o.dumpLock.Unlock()

	w, h := t.Width, t.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			var r, g, b uint8
			if t.DType == perceive.TensorU8 {
				r, g, b = t.U8[i], t.U8[i+1], t.U8[i+2]
			} else {
				r = denormByte(t.F32[i], norm, 0)
				g = denormByte(t.F32[i+1], norm, 1)
				b = denormByte(t.F32[i+2], norm, 2)
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 0)
	dc.SetLineWidth(2)
	for _, obj := range objects {
		fw, fh := float64(w), float64(h)
		dc.DrawRectangle(float64(obj.Box.X)*fw, float64(obj.Box.Y)*fh, float64(obj.Box.Width)*fw, float64(obj.Box.Height)*fh)
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("%v %.2f", obj.Label, obj.Confidence), float64(obj.Box.X)*fw+2, float64(obj.Box.Y)*fh-3)
	}

	annotated := dc.Image()
	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := annotated.At(x, y).RGBA()
			i := (y*w + x) * 3
			rgb[i] = byte(r >> 8)
			rgb[i+1] = byte(g >> 8)
			rgb[i+2] = byte(b >> 8)
		}
	}

	im := cimg.WrapImage(w, h, cimg.PixelFormatRGB, rgb)
	jpg, err := cimg.Compress(im, cimg.MakeCompressParams(cimg.Sampling(cimg.Sampling420), 95, cimg.Flags(0)))
	if err != nil {
		o.log.Warnf("Failed to compress debug frame: %v", err)
		return
	}
	filename := fmt.Sprintf("frame-%v.jpg", variant)
	if err := os.WriteFile(filename, jpg, 0644); err != nil {
		o.log.Warnf("Failed to write debug frame %v: %v", filename, err)
	} else {
		o.log.Infof("Wrote debug frame %v", filename)
	}
}

// denormByte undoes normalization for channel c and converts to a byte.
func denormByte(v float32, norm *preprocess.Normalization, c int) uint8 {
	if norm != nil {
		v = v*norm.Std[c] + norm.Mean[c]
	}
	scaled := int32(v * 255)
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 255 {
		scaled = 255
	}
	return uint8(scaled)
}
