package detector

import (
	"sort"

	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// IoU is the intersection-over-union of two boxes.
func IoU(a, b types.BBox) float64 {
	ix := min(a.X2, b.X2) - max(a.X1, b.X1)
	iy := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := float64(ix * iy)
	union := float64(a.Width()*a.Height()+b.Width()*b.Height()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy per-class suppression: boxes overlapping a
// higher-scoring box of the same class by more than iou are dropped. The
// result is ordered by descending confidence.
func NMS(dets []types.RawDetection, iou float64) []types.RawDetection {
	sorted := make([]types.RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	out := make([]types.RawDetection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		out = append(out, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if IoU(sorted[i].BBox, sorted[j].BBox) > iou {
				suppressed[j] = true
			}
		}
	}
	return out
}
