package prompt

// Mode selects a preset prompt.
type Mode string

const (
	ModeDefault        Mode = "Default Mode"
	ModeLogicComponent Mode = "Logic Component Mode"
	ModeCircuitDiagram Mode = "Circuit Diagram Mode"
	ModeCustom         Mode = "Custom Mode"
)

var presets = map[Mode]string{
	ModeDefault:        "Describe the image for a blind person.",
	ModeLogicComponent: "Recognize and describe the image for a blind person of logic components, do not mention the colours.",
	ModeCircuitDiagram: "Please explain this circuit diagram without hallucination and its components in 6 lines so I can solve a numerical in it?",
	ModeCustom:         "",
}

// Modes lists the modes in menu order.
func Modes() []Mode {
	return []Mode{ModeDefault, ModeLogicComponent, ModeCircuitDiagram, ModeCustom}
}

// DefaultPrompt returns the preset text for mode. Unknown modes fall back to
// the Default Mode prompt; Custom Mode has no preset.
func DefaultPrompt(mode Mode) string {
	if p, ok := presets[mode]; ok {
		return p
	}
	return presets[ModeDefault]
}
