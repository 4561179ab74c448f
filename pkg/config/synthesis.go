package config

// Synthesis modes supported by the synthesize stage.
const (
	SynthesisComprehensive = "comprehensive"
	SynthesisTechnical     = "technical"
	SynthesisPractical     = "practical"
)

// SynthesisConfig holds defaults for the synthesize stage.
type SynthesisConfig struct {
	// DefaultMode applies when preferences omit synthesis_mode.
	// One of: comprehensive, technical, practical.
	DefaultMode string `yaml:"default_mode"`
}

// DefaultSynthesisConfig returns the built-in synthesis defaults.
func DefaultSynthesisConfig() *SynthesisConfig {
	return &SynthesisConfig{
		DefaultMode: SynthesisComprehensive,
	}
}

// ValidSynthesisMode reports whether mode is a recognized synthesis mode.
func ValidSynthesisMode(mode string) bool {
	switch mode {
	case SynthesisComprehensive, SynthesisTechnical, SynthesisPractical:
		return true
	}
	return false
}
