package waterfall

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Theme is a predefined color scheme for power values.
type Theme string

const (
	ClassicTheme   Theme = "classic"   // Blue to red transition
	GrayscaleTheme Theme = "grayscale" // Black to white transition
	JungleTheme    Theme = "jungle"    // Dark green to yellow transition
	ThermalTheme   Theme = "thermal"   // Black to red to yellow to white
	MarineTheme    Theme = "marine"    // Deep blue to cyan to white

	DefaultTheme = ClassicTheme

	colorMapSize = 256
)

// ParseTheme returns the theme with the given name. An empty name selects
// the default theme.
func ParseTheme(name string) (Theme, error) {
	switch t := Theme(name); t {
	case "":
		return DefaultTheme, nil
	case ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme:
		return t, nil
	default:
		return "", fmt.Errorf("unknown color theme %q", name)
	}
}

// colorMapper maps power to a pre-computed gradient.
type colorMapper struct {
	colors        []color.Color
	boundsMin     float64
	powerPerIndex float64
}

func newColorMapper(theme Theme, b bounds) *colorMapper {
	fn := themeFunc(theme)

	cm := &colorMapper{colors: make([]color.Color, colorMapSize)}
	for i := range cm.colors {
		cm.colors[i] = fn(float64(i) / float64(colorMapSize-1))
	}
	cm.boundsMin = b.Min
	cm.powerPerIndex = (b.Max - b.Min) / float64(colorMapSize-1)
	return cm
}

func (cm *colorMapper) color(power float64) color.Color {
	if math.IsNaN(power) || cm.powerPerIndex <= 0 {
		return cm.colors[0]
	}

	index := int((power - cm.boundsMin) / cm.powerPerIndex)
	switch {
	case index < 0:
		return cm.colors[0]
	case index >= len(cm.colors):
		return cm.colors[len(cm.colors)-1]
	}
	return cm.colors[index]
}

func hsv(h, s, v float64) color.Color {
	return colorful.Hsv(math.Mod(h, 360), s, v).Clamped()
}

// themeFunc returns a function mapping normalized power [0, 1] to a color.
func themeFunc(theme Theme) func(float64) color.Color {
	switch theme {
	case GrayscaleTheme:
		return func(p float64) color.Color {
			v := uint8(math.Pow(p, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 255}
		}

	case JungleTheme:
		return func(p float64) color.Color {
			return hsv(120-(p*60), 1, 0.3+(math.Pow(p, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(p float64) color.Color {
			switch {
			case p < 0.33:
				return color.RGBA{R: uint8(p * 3 * 255), A: 255}
			case p < 0.66:
				return color.RGBA{R: 255, G: uint8((p - 0.33) * 3 * 255), A: 255}
			default:
				return color.RGBA{R: 255, G: 255, B: uint8(min(1, (p-0.66)*3) * 255), A: 255}
			}
		}

	case MarineTheme:
		return func(p float64) color.Color {
			return hsv(240-(p*60), 1-(p*0.8), 0.3+(math.Pow(p, 0.6)*0.7))
		}

	default:
		return func(p float64) color.Color {
			return hsv(240-(p*240), 0.9+(p*0.1), math.Pow(p, 0.7))
		}
	}
}
