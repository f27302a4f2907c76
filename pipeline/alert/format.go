package alert

import (
	"fmt"
	"strings"
)

const metersPerFoot = 0.3048

// DistanceBucketFeet converts meters to feet and rounds to the nearest
// 2-foot bucket, clamped to a minimum of 2. Coarse buckets keep the dedupe
// key stable while an object drifts a few inches between frames.
func DistanceBucketFeet(meters float32) int {
	feet := meters / metersPerFoot
	bucket := int(feet/2+0.5) * 2
	if bucket < 2 {
		bucket = 2
	}
	return bucket
}

// Direction maps the normalized horizontal center of a bounding box to a
// spoken direction, splitting the view into thirds.
func Direction(centerX float32) string {
	switch {
	case centerX < 1.0/3.0:
		return "left"
	case centerX < 2.0/3.0:
		return "ahead"
	default:
		return "right"
	}
}

// ObjectAlert formats the announcement for a detected object, eg
// ("person 4 feet to the left", "obj:person:left:4").
func ObjectAlert(label string, centerX, distanceMeters float32) (text, cacheKey string) {
	dir := Direction(centerX)
	feet := DistanceBucketFeet(distanceMeters)
	where := dir
	if dir != "ahead" {
		where = "to the " + dir
	}
	text = fmt.Sprintf("%v %v feet %v", spoken(label), feet, where)
	cacheKey = fmt.Sprintf("obj:%v:%v:%v", label, dir, feet)
	return text, cacheKey
}

// SignAlert formats the announcement for a recognized sign.
func SignAlert(label string) (text, cacheKey string) {
	return spoken(label), "sign:" + label
}

// SoundAlert formats the announcement for a classified ambient sound.
func SoundAlert(label string) (text, cacheKey string) {
	return spoken(label) + " detected", "sound:" + label
}

// FaceAlert formats the announcement for a recognized face.
func FaceAlert(name string) (text, cacheKey string) {
	return name + " is here", "face:" + name
}

// spoken turns a model class label like "fire_alarm" into speakable text.
func spoken(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}
