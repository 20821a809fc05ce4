package render

// labelMargin keeps labels this many pixels away from the image edges.
const labelMargin = 10

// LabelPosition says where a label ended up relative to its box.
type LabelPosition int

const (
	LabelAbove LabelPosition = iota
	LabelBelow
	LabelInside
)

func (p LabelPosition) String() string {
	switch p {
	case LabelAbove:
		return "above"
	case LabelBelow:
		return "below"
	case LabelInside:
		return "inside"
	default:
		return "unknown"
	}
}

// Placement is the vertical layout of one label.
type Placement struct {
	Position LabelPosition
	// RectTop is the top edge of the filled label background.
	RectTop int
	// Baseline is the y coordinate text is drawn on.
	Baseline int
}

// PlaceLabel picks a vertical label position for a box spanning y1..y2.
// Labels go above the box, fall back to below it when they would touch the
// top margin, and move inside the box when below would cross the bottom margin.
func PlaceLabel(y1, y2, textHeight, descent, imageHeight int) Placement {
	p := Placement{
		Position: LabelAbove,
		RectTop:  y1 - textHeight - (descent + 3),
		Baseline: y1 - descent/2 - 3,
	}
	if p.RectTop >= labelMargin {
		return p
	}

	p = Placement{
		Position: LabelBelow,
		RectTop:  y2 + 3,
		Baseline: y2 + textHeight + 3,
	}
	if p.Baseline+descent <= imageHeight-labelMargin {
		return p
	}

	return Placement{
		Position: LabelInside,
		RectTop:  y1 + 3,
		Baseline: y1 + textHeight + 3,
	}
}
