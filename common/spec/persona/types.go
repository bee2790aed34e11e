// Package persona defines the companion persona document (v1).
//
// A persona describes one AI companion: identity, presentation assets and the
// character material fed into the completion prompt. Documents arrive from two
// places — operator-provided YAML seed files loaded at startup, and JSON
// payloads fetched from a third-party catalog during sync — and both are
// validated here before they reach the store.
package persona

// SpecVersion is the API version string required in every YAML seed document.
// Catalog JSON payloads are vendor-controlled and carry no version field; they
// are validated against the JSON schema instead.
const SpecVersion = "persona/v1"

// Persona is one companion character definition.
type Persona struct {
	// APIVersion must be "persona/v1" in YAML seeds. Empty for catalog entries.
	APIVersion string `yaml:"apiVersion" json:"apiVersion,omitempty"`

	// ID is the stable companion identifier. Derived from Name when empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Name is the display name shown to users and used in the prompt.
	Name string `yaml:"name" json:"name"`

	// Description is a short human-readable bio.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// AvatarURL points at the companion's avatar image.
	AvatarURL string `yaml:"avatarUrl,omitempty" json:"avatar_url,omitempty"`

	// Personality is free-form character material injected into the prompt.
	Personality string `yaml:"personality,omitempty" json:"personality,omitempty"`

	// VoiceID selects the TTS voice for the talking-head stream.
	VoiceID string `yaml:"voiceId,omitempty" json:"voice_id,omitempty"`

	// PresenterID selects the talking-head presenter. Optional; companions
	// without one fall back to audio-only streams.
	PresenterID string `yaml:"presenterId,omitempty" json:"presenter_id,omitempty"`

	// Specialties lists conversation topics the companion leans into.
	Specialties []string `yaml:"specialties,omitempty" json:"specialties,omitempty"`

	// Active marks whether the companion is offered to users. A nil pointer
	// means "not specified" and is treated as active.
	Active *bool `yaml:"active,omitempty" json:"is_active,omitempty"`
}

// IsActive reports whether the companion should be offered to users.
func (p *Persona) IsActive() bool {
	return p.Active == nil || *p.Active
}
