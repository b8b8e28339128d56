package quality

import "image"

const DefectClosedEyes = "closed_eyes"

type EyesResult struct {
	ClosedEyesCount int    `json:"closed_eyes_count"`
	IsDefective     bool   `json:"is_defective"`
	DefectType      string `json:"defect_type,omitempty"`
}

// EyeDetector finds faces with closed eyes. Plug a real detector in with
// WithEyeDetector.
type EyeDetector interface {
	DetectClosedEyes(path string, g *image.Gray) EyesResult
}

// NoEyeDetector never reports closed eyes.
type NoEyeDetector struct{}

func (NoEyeDetector) DetectClosedEyes(string, *image.Gray) EyesResult {
	return EyesResult{}
}
