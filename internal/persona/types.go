package persona

import "time"

// FewShot is one sample exchange used to steer generation style.
// Tags let the engine pick examples that match the current scene; Shape
// is a coarse lexical-shape label used for short-term rotation cooldowns.
type FewShot struct {
	User      string   `yaml:"user"`
	Assistant string   `yaml:"assistant"`
	SceneTags []string `yaml:"scene_tags,omitempty"`
	EnergyTag string   `yaml:"energy_tag,omitempty"`
	Shape     string   `yaml:"shape,omitempty"`
}

// ToneAdjustment biases a persona's lexicon and punctuation for one
// scene tone. RequiredWords are cues the voice should lean on; missing
// all of them costs style-fit score. BannedWords are off-voice for that
// tone. Punctuation is the expected terminal style: exclaim, question,
// ellipsis, or plain.
type ToneAdjustment struct {
	RequiredWords []string `yaml:"required_words,omitempty"`
	BannedWords   []string `yaml:"banned_words,omitempty"`
	Punctuation   string   `yaml:"punctuation,omitempty"`
}

// Persona is a fully resolved reaction voice: a base personality plus any
// virtual-user variant overrides. The engine treats it as immutable per
// call; two variants sharing a BasePersonaID never speak in one window.
type Persona struct {
	ID            string `yaml:"id"`
	PreferenceKey string `yaml:"preference_key"`
	BasePersonaID string `yaml:"base_persona_id"`
	Label         string `yaml:"label"`
	Description   string `yaml:"description,omitempty"`

	Traits      []string `yaml:"traits,omitempty"`
	ToneVariant string   `yaml:"tone_variant,omitempty"` // calm|active|peak scheduling bias

	CadenceSeconds int     `yaml:"cadence_seconds"`
	MinWords       int     `yaml:"min_words"`
	TargetWords    int     `yaml:"target_words"`
	MaxWords       int     `yaml:"max_words"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	Weight         float64 `yaml:"weight,omitempty"`

	SystemPrompt      string                    `yaml:"system_prompt"`
	StyleGuidelines   []string                  `yaml:"style_guidelines,omitempty"`
	SpeechTics        []string                  `yaml:"speech_tics,omitempty"`
	DisallowedPhrases []string                  `yaml:"disallowed_phrases,omitempty"`
	ToneAdjustments   map[string]ToneAdjustment `yaml:"tone_adjustments,omitempty"`
	FewShots          []FewShot                 `yaml:"few_shots,omitempty"`
}

// Cadence returns the persona's base minimum interval between emissions
func (p *Persona) Cadence() time.Duration {
	return time.Duration(p.CadenceSeconds) * time.Second
}

// EffectiveWeight returns the turn-distribution weight, defaulting to 1
func (p *Persona) EffectiveWeight() float64 {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}

// normalize fills derived defaults after YAML decoding
func (p *Persona) normalize() {
	if p.PreferenceKey == "" {
		p.PreferenceKey = p.BasePersonaID
	}
	if p.PreferenceKey == "" {
		p.PreferenceKey = p.ID
	}
	if p.BasePersonaID == "" {
		p.BasePersonaID = p.ID
	}
	if p.CadenceSeconds <= 0 {
		p.CadenceSeconds = 15
	}
	if p.MaxWords <= 0 {
		p.MaxWords = 30
	}
	if p.TargetWords <= 0 {
		p.TargetWords = p.MaxWords * 2 / 3
	}
	if p.MinWords <= 0 {
		p.MinWords = 3
	}
	if p.Temperature <= 0 {
		p.Temperature = 0.8
	}
	if p.TopP <= 0 {
		p.TopP = 0.9
	}
}

// Roster is one named set of personas (a "variant" in preference terms)
type Roster struct {
	VariantID string    `yaml:"variant_id"`
	Personas  []Persona `yaml:"personas"`
}
