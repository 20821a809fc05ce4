package render

// Flags selects which annotation layers are drawn. A valid value always
// satisfies Confidence => Class => Box.
type Flags struct {
	Box        bool `json:"box"`
	Class      bool `json:"class"`
	Confidence bool `json:"confidence"`
}

// DefaultFlags enables every layer.
func DefaultFlags() Flags {
	return Flags{Box: true, Class: true, Confidence: true}
}

// ToggleBox flips box drawing. Turning boxes off hides labels too.
func (f Flags) ToggleBox() Flags {
	f.Box = !f.Box
	if !f.Box {
		f.Class = false
		f.Confidence = false
	}
	return f
}

// ToggleClass flips class labels.
func (f Flags) ToggleClass() Flags {
	f.Class = !f.Class
	if f.Class {
		f.Box = true
	} else {
		f.Confidence = false
	}
	return f
}

// ToggleConfidence flips confidence scores.
func (f Flags) ToggleConfidence() Flags {
	f.Confidence = !f.Confidence
	if f.Confidence {
		f.Class = true
		f.Box = true
	}
	return f
}

// Valid reports whether the flags satisfy the layer dependency chain.
func (f Flags) Valid() bool {
	return (!f.Confidence || f.Class) && (!f.Class || f.Box)
}
