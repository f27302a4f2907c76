package orchestrator

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pkg/perceive"
)

// Single-frame box heights jitter, which makes the derived distance jump
// around and defeats alert deduplication. The tracker associates detections
// frame to frame by IOU and blends each object's distance with its track
// history.

const (
	// Minimum IOU for a detection to continue an existing track
	trackMatchIOU = 0.3

	// Unmatched tracks are kept alive this many frames before being dropped
	trackMaxAge = 5

	// Weight of the newest distance estimate in the blend
	distanceBlend = float32(0.3)
)

type track struct {
	box      perceive.Rect
	distance float32
	age      int // Frames since last matched
}

type tracker struct {
	tracks      []track
	searchReuse []int
}

func newTracker() *tracker {
	return &tracker{}
}

func (tr *tracker) reset() {
	tr.tracks = tr.tracks[:0]
}

// update matches detections against the live tracks and returns the
// smoothed distance for each detection, parallel to objects. Tracks are
// indexed spatially to avoid O(N^2) pair comparisons.
func (tr *tracker) update(objects []perceive.Detection, rawDistance []float32) []float32 {
	smoothed := make([]float32, len(objects))

	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(tr.tracks))
	for _, t := range tr.tracks {
		fb.Add(t.box.X, t.box.Y, t.box.X2(), t.box.Y2())
	}
	fb.Finish()

	matched := map[int]bool{}
	next := make([]track, 0, len(objects))
	for i, obj := range objects {
		bestTrack := -1
		bestIOU := float32(trackMatchIOU)
		tr.searchReuse = fb.SearchFast(obj.Box.X, obj.Box.Y, obj.Box.X2(), obj.Box.Y2(), tr.searchReuse)
		for _, j := range tr.searchReuse {
			if matched[j] {
				continue
			}
			iou := obj.Box.IOU(tr.tracks[j].box)
			if iou >= bestIOU {
				bestIOU = iou
				bestTrack = j
			}
		}

		d := rawDistance[i]
		if bestTrack != -1 {
			matched[bestTrack] = true
			d = tr.tracks[bestTrack].distance*(1-distanceBlend) + rawDistance[i]*distanceBlend
		}
		smoothed[i] = d
		next = append(next, track{box: obj.Box, distance: d})
	}

	// Keep unmatched tracks around briefly so a flickering detection can
	// resume its history.
	for j := range tr.tracks {
		if matched[j] {
			continue
		}
		t := tr.tracks[j]
		t.age++
		if t.age <= trackMaxAge {
			next = append(next, t)
		}
	}
	tr.tracks = next
	return smoothed
}

// estimateDistance derives a real-world distance in meters from the
// normalized bounding box height, using a pinhole model with an assumed
// per-class object height.
func estimateDistance(cfg *config.DetectionConfig, label string, boxHeight float32) float32 {
	realHeight, ok := cfg.ClassHeights[label]
	if !ok {
		realHeight = cfg.DefaultHeight
	}
	if boxHeight < 0.01 {
		boxHeight = 0.01
	}
	return realHeight * cfg.FocalFactor / boxHeight
}
