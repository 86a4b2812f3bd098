package ocr

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Binarization selects the final step of a preprocessing profile.
type Binarization int

const (
	BinarizeOtsu Binarization = iota
	BinarizeAdaptive
)

// Profile is a fixed preprocessing pipeline plus the matching name heuristic
// settings. otsu suits full-size photos; adaptive suits downscaled camera
// frames with uneven lighting.
type Profile struct {
	Name string
	// MaxSide downscales larger images first; 0 keeps the original size.
	MaxSide int
	// Bilateral denoise parameters.
	Diameter   int
	SigmaColor float64
	SigmaSpace float64

	Binarize Binarization
	Block    int     // adaptive only
	C        float64 // adaptive only

	// MinLineLen is the minimum length, in letters and spaces, of a line
	// considered as a name candidate.
	MinLineLen int
}

var (
	ProfileOtsu = Profile{
		Name:       "otsu",
		Diameter:   9,
		SigmaColor: 75,
		SigmaSpace: 75,
		Binarize:   BinarizeOtsu,
		MinLineLen: 1,
	}
	ProfileAdaptive = Profile{
		Name:       "adaptive",
		MaxSide:    1024,
		Diameter:   11,
		SigmaColor: 17,
		SigmaSpace: 17,
		Binarize:   BinarizeAdaptive,
		Block:      31,
		C:          2,
		MinLineLen: 3,
	}
)

var profiles = map[string]Profile{
	ProfileOtsu.Name:     ProfileOtsu,
	ProfileAdaptive.Name: ProfileAdaptive,
}

// ProfileByName looks up a built-in profile. The empty name selects otsu.
func ProfileByName(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProfileOtsu, nil
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileNames lists the built-in profile names in sorted order.
func ProfileNames() []string {
	out := make([]string, 0, len(profiles))
	for n := range profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Stage is one intermediate image of a profile run.
type Stage struct {
	Name  string
	Image *image.Gray
}

// Stages runs the pipeline (optional downscale, grayscale, bilateral denoise,
// binarization) and returns the gray, bilateral and binary images in order.
func (p Profile) Stages(img image.Image) []Stage {
	img = FitMaxSide(img, p.MaxSide)
	gray := Grayscale(img)
	smooth := Bilateral(gray, p.Diameter, p.SigmaColor, p.SigmaSpace)
	var binary *image.Gray
	switch p.Binarize {
	case BinarizeAdaptive:
		binary = AdaptiveGaussian(smooth, p.Block, p.C)
	default:
		binary = Otsu(smooth)
	}
	return []Stage{
		{Name: "gray", Image: gray},
		{Name: "bilateral", Image: smooth},
		{Name: "binary", Image: binary},
	}
}

// Apply runs the pipeline and returns the binary image handed to OCR.
func (p Profile) Apply(img image.Image) *image.Gray {
	stages := p.Stages(img)
	return stages[len(stages)-1].Image
}
