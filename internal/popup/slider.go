package popup

// Slider position encoding. The popup slider is non-linear: the first ten raw
// steps map 1:1 to 0–10% for fine control near mute, every step above that is
// worth 10%. StepToPercent and PercentToStep are exact inverses over the full
// range.
const (
	// SliderMax is the slider's upper raw position: (69-9)*10 = 600%.
	SliderMax = 69

	// MaxVolume is the largest percentage the popup can request.
	MaxVolume = (SliderMax - 9) * 10

	// DefaultVolume is the native page volume.
	DefaultVolume = 100
)

// StepToPercent converts a raw slider position to a volume percentage.
func StepToPercent(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw <= 10 {
		return raw
	}
	if raw > SliderMax {
		raw = SliderMax
	}
	return (raw - 9) * 10
}

// PercentToStep converts a volume percentage back to a raw slider position.
func PercentToStep(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent <= 10 {
		return percent
	}
	if percent > MaxVolume {
		percent = MaxVolume
	}
	return percent/10 + 9
}
