package service

import (
	"regexp"

	"github.com/zlnvch/learnlink/models"
)

// BackgroundColor is the board surface color; the eraser paints with it.
const BackgroundColor = "#f3f4f6"

const (
	minToolWidth     = 1
	maxToolWidth     = 10
	eraserWidth      = 20
	highlighterAlpha = 0.3
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Style struct {
	Color string
	Width int
	Alpha float64
}

// ResolveStyle turns the user's tool selection into the stroke style that is
// stored and relayed. The eraser ignores the selected color and width.
func ResolveStyle(tool models.Tool, color string, width int) (Style, error) {
	switch tool {
	case models.ToolEraser:
		return Style{Color: BackgroundColor, Width: eraserWidth, Alpha: 1}, nil
	case models.ToolPen, models.ToolHighlighter:
	default:
		return Style{}, newValidationError("tool", "must be one of: pen highlighter eraser")
	}

	if !hexColorRegex.MatchString(color) {
		return Style{}, newValidationError("color", "must be a #rrggbb color")
	}
	if width < minToolWidth || width > maxToolWidth {
		return Style{}, newValidationError("width", "must be between 1 and 10")
	}

	if tool == models.ToolHighlighter {
		return Style{Color: color, Width: width * 3, Alpha: highlighterAlpha}, nil
	}
	return Style{Color: color, Width: width, Alpha: 1}, nil
}

func applyStyle(stroke models.Stroke, style Style) models.Stroke {
	stroke.Color = style.Color
	stroke.Width = style.Width
	stroke.Alpha = style.Alpha
	return stroke
}
