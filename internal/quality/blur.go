package quality

import "image"

const DefectBlur = "blur"

type BlurResult struct {
	Score       float64 `json:"score"`
	IsDefective bool    `json:"is_defective"`
	DefectType  string  `json:"defect_type,omitempty"`
}

func detectBlur(g *image.Gray, threshold float64) BlurResult {
	score := BlurScore(g)
	r := BlurResult{Score: score, IsDefective: score < threshold}
	if r.IsDefective {
		r.DefectType = DefectBlur
	}
	return r
}

// BlurScore is the population variance of the 3x3 aperture Laplacian of g.
// Sharp images have strong second derivatives and therefore a high score.
func BlurScore(g *image.Gray) float64 {
	resp := laplacian(g)
	if len(resp) == 0 {
		return 0
	}
	var sum float64
	for _, v := range resp {
		sum += v
	}
	mean := sum / float64(len(resp))
	var ss float64
	for _, v := range resp {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(resp))
}

// laplacian applies the kernel
//
//	2  0  2
//	0 -8  0
//	2  0  2
//
// with borders mirrored around the edge pixel (the edge itself is not repeated).
func laplacian(g *image.Gray) []float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	at := func(x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x])
	}
	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		up, down := reflect101(y-1, h), reflect101(y+1, h)
		for x := 0; x < w; x++ {
			left, right := reflect101(x-1, w), reflect101(x+1, w)
			v := 2*(at(left, up)+at(right, up)+at(left, down)+at(right, down)) - 8*at(x, y)
			out = append(out, v)
		}
	}
	return out
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - 2 - i
	}
	return i
}
