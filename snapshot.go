package particles

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// snapshotSupersample is the oversampling factor of the debug renderer.
const snapshotSupersample = 2

// Snapshot rasterizes the current particle state into a w x h image for
// debugging and golden tests: disks are filled with their velocity
// gradient color over a dark background, rendered supersampled and
// downscaled. World y points up, image y points down.
func (e *Engine) Snapshot(w, h int) *image.RGBA {
	if w <= 0 || h <= 0 {
		return nil
	}

	sw, sh := w*snapshotSupersample, h*snapshotSupersample
	big := image.NewRGBA(image.Rect(0, 0, sw, sh))
	bg := color.RGBA{R: 12, G: 14, B: 24, A: 255}
	draw.Draw(big, big.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	handles := e.Handles()
	scaleX := float32(sw) / e.cfg.WorldSize[0]
	scaleY := float32(sh) / e.cfg.WorldSize[1]

	for k := 0; k < handles.Len; k++ {
		cx := handles.Positions[2*k] * scaleX
		cy := float32(sh) - handles.Positions[2*k+1]*scaleY
		r := handles.Radii[k] * scaleX
		if r < 1 {
			r = 1
		}

		c := handles.Color(k)
		rgba := color.RGBA{
			R: uint8(c[0] * 255),
			G: uint8(c[1] * 255),
			B: uint8(c[2] * 255),
			A: 255,
		}
		fillDisk(big, cx, cy, r, rgba)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), big, big.Bounds(), draw.Src, nil)
	return out
}

// fillDisk writes a filled circle, clipped to the image bounds.
func fillDisk(img *image.RGBA, cx, cy, r float32, c color.RGBA) {
	bounds := img.Bounds()
	x0 := int(cx - r)
	x1 := int(cx + r + 1)
	y0 := int(cy - r)
	y1 := int(cy + r + 1)

	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 > bounds.Max.X {
		x1 = bounds.Max.X
	}
	if y1 > bounds.Max.Y {
		y1 = bounds.Max.Y
	}

	r2 := r * r
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx := float32(x) + 0.5 - cx
			dy := float32(y) + 0.5 - cy
			if dx*dx+dy*dy <= r2 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
