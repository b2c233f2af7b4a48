package scene

import (
	"image"
	"math"
)

// DataSpace describes how buffer pixel values map to colors.
type DataSpace uint8

// Supported data spaces. DataSpaceUnknown is interpreted as sRGB.
const (
	DataSpaceUnknown DataSpace = iota
	DataSpaceSRGB
	DataSpaceDisplayP3
	DataSpaceSRGBExtended
)

// String returns the data space name.
func (d DataSpace) String() string {
	switch d {
	case DataSpaceUnknown:
		return "unknown"
	case DataSpaceSRGB:
		return "srgb"
	case DataSpaceDisplayP3:
		return "display-p3"
	case DataSpaceSRGBExtended:
		return "srgb-extended"
	default:
		return "invalid"
	}
}

func (d DataSpace) valid() bool { return d <= DataSpaceSRGBExtended }

// needsConversion reports whether pixels in d differ from display sRGB.
func (d DataSpace) needsConversion() bool { return d == DataSpaceDisplayP3 }

// p3ToSRGB is the linear Display P3 to linear sRGB matrix (D65).
var p3ToSRGB = [3][3]float64{
	{1.2249401, -0.2249404, 0},
	{-0.0420569, 1.0420571, 0},
	{-0.0196376, -0.0786361, 1.0982735},
}

var srgbToLinear = func() (lut [256]float64) {
	for i := range lut {
		lut[i] = eotf(float64(i) / 255)
	}
	return lut
}()

func eotf(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func oetf(v float64) float64 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 1
	case v <= 0.0031308:
		return v * 12.92
	default:
		return 1.055*math.Pow(v, 1/2.4) - 0.055
	}
}

// convertP3 returns a copy of src with Display P3 colors mapped to sRGB.
// src holds premultiplied pixels; the conversion runs on straight alpha.
func convertP3(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	for i := 0; i+3 < len(src.Pix); i += 4 {
		a := src.Pix[i+3]
		if a == 0 {
			continue
		}
		var in [3]float64
		for c := range 3 {
			straight := int(src.Pix[i+c]) * 255 / int(a)
			in[c] = srgbToLinear[min(straight, 255)]
		}
		for c := range 3 {
			lin := p3ToSRGB[c][0]*in[0] + p3ToSRGB[c][1]*in[1] + p3ToSRGB[c][2]*in[2]
			dst.Pix[i+c] = to8(oetf(lin) * float64(a) / 255)
		}
		dst.Pix[i+3] = a
	}
	return dst
}
