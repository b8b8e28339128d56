package quality

import "image"

const (
	DefectOverexposed  = "overexposed"
	DefectUnderexposed = "underexposed"
)

const (
	histBuckets = 64
	// Buckets 60..63 cover luma 240..255, buckets 0..3 cover luma 0..15.
	overBucket  = 60
	underBucket = 4
)

type ExposureResult struct {
	OverexposedRatio  float64 `json:"overexposed_ratio"`
	UnderexposedRatio float64 `json:"underexposed_ratio"`
	IsDefective       bool    `json:"is_defective"`
	DefectType        string  `json:"defect_type,omitempty"`
}

// exposureThresholds groups the exposure knobs.
type exposureThresholds struct {
	over, under float64
	sampleLimit int
	stride      int
}

func detectExposure(g *image.Gray, th exposureThresholds) ExposureResult {
	hist, total := histogram(g, th.sampleLimit, th.stride)
	if total == 0 {
		return ExposureResult{}
	}
	var over, under int
	for i := overBucket; i < histBuckets; i++ {
		over += hist[i]
	}
	for i := 0; i < underBucket; i++ {
		under += hist[i]
	}

	r := ExposureResult{
		OverexposedRatio:  float64(over) / float64(total),
		UnderexposedRatio: float64(under) / float64(total),
	}
	isOver := r.OverexposedRatio > th.over
	isUnder := r.UnderexposedRatio > th.under
	r.IsDefective = isOver || isUnder
	switch {
	case isOver:
		r.DefectType = DefectOverexposed
	case isUnder:
		r.DefectType = DefectUnderexposed
	}
	return r
}

// histogram counts luma into 64 buckets. Images larger than sampleLimit
// pixels are sampled every stride rows and columns.
func histogram(g *image.Gray, sampleLimit, stride int) ([histBuckets]int, int) {
	var hist [histBuckets]int
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	step := 1
	if w*h > sampleLimit && stride > 1 {
		step = stride
	}
	total := 0
	for y := 0; y < h; y += step {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x := 0; x < w; x += step {
			hist[row[x]>>2]++
			total++
		}
	}
	return hist, total
}
