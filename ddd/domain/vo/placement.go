package vo

import "fmt"

// CameraPlacement 摄像头画中画位置与大小
type CameraPlacement struct {
	Position string
	Size     string
}

const (
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"

	SizeSmall      = "small"
	SizeMedium     = "medium"
	SizeLarge      = "large"
	SizeExtraLarge = "extra-large"
)

const overlayMargin = 10

// DefaultCameraPlacement bottom-right at a quarter of the overlay's size.
func DefaultCameraPlacement() CameraPlacement {
	return CameraPlacement{Position: PositionBottomRight, Size: SizeMedium}
}

// Normalize replaces unknown values with defaults.
func (p CameraPlacement) Normalize() CameraPlacement {
	def := DefaultCameraPlacement()
	switch p.Position {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight:
	default:
		p.Position = def.Position
	}
	switch p.Size {
	case SizeSmall, SizeMedium, SizeLarge, SizeExtraLarge:
	default:
		p.Size = def.Size
	}
	return p
}

func (p CameraPlacement) divisor() int {
	switch p.Size {
	case SizeSmall:
		return 5
	case SizeLarge:
		return 3
	case SizeExtraLarge:
		return 2
	default:
		return 4
	}
}

func (p CameraPlacement) coordinates() string {
	switch p.Position {
	case PositionTopLeft:
		return fmt.Sprintf("%d:%d", overlayMargin, overlayMargin)
	case PositionTopRight:
		return fmt.Sprintf("W-w-%d:%d", overlayMargin, overlayMargin)
	case PositionBottomLeft:
		return fmt.Sprintf("%d:H-h-%d", overlayMargin, overlayMargin)
	default:
		return fmt.Sprintf("W-w-%d:H-h-%d", overlayMargin, overlayMargin)
	}
}

// OverlayFilter builds the ffmpeg filter_complex that scales input 1 and overlays it on input 0.
func (p CameraPlacement) OverlayFilter() string {
	n := p.Normalize()
	d := n.divisor()
	return fmt.Sprintf("[1:v]scale=iw/%d:ih/%d[overlay];[0:v][overlay]overlay=%s", d, d, n.coordinates())
}
