package manifest

// Size is the requested output dimensions.
type Size string

const (
	Size1024x1024 Size = "1024x1024"
	Size1536x1024 Size = "1536x1024"
	Size1024x1536 Size = "1024x1536"
	SizeAuto      Size = "auto"
)

// Quality is the requested rendering quality.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Background is the requested background treatment.
type Background string

const (
	BackgroundTransparent Background = "transparent"
	BackgroundOpaque      Background = "opaque"
)

// Defaults applied to absent request fields.
const (
	DefaultSize       = Size1024x1024
	DefaultQuality    = QualityHigh
	DefaultBackground = BackgroundOpaque
)

// Reference descriptor types.
const (
	ReferenceImageURL = "imageUrl"
	ReferenceBase64   = "base64"
)

// Reference is an optional reference image passed alongside the prompt.
type Reference struct {
	// Type is "imageUrl" or "base64".
	Type string `json:"type" yaml:"type"`

	// URL is set for imageUrl references.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Data is the base64 payload for base64 references.
	Data string `json:"data,omitempty" yaml:"data,omitempty"`

	// Filename is an optional hint for base64 references.
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
}

// Request is the immutable description of what to generate.
type Request struct {
	Prompt     string      `json:"prompt" yaml:"prompt"`
	Size       Size        `json:"size" yaml:"size"`
	Quality    Quality     `json:"quality" yaml:"quality"`
	Background Background  `json:"background" yaml:"background"`
	References []Reference `json:"references" yaml:"references"`
}

// ApplyDefaults fills absent enum fields and normalizes a nil reference list
// to an empty one.
func (r *Request) ApplyDefaults() {
	if r.Size == "" {
		r.Size = DefaultSize
	}
	if r.Quality == "" {
		r.Quality = DefaultQuality
	}
	if r.Background == "" {
		r.Background = DefaultBackground
	}
	if r.References == nil {
		r.References = []Reference{}
	}
}

// ValidSize reports whether s is a supported size.
func ValidSize(s Size) bool {
	switch s {
	case Size1024x1024, Size1536x1024, Size1024x1536, SizeAuto:
		return true
	}
	return false
}

// ValidQuality reports whether q is a supported quality.
func ValidQuality(q Quality) bool {
	return q == QualityStandard || q == QualityHigh
}

// ValidBackground reports whether b is a supported background.
func ValidBackground(b Background) bool {
	return b == BackgroundTransparent || b == BackgroundOpaque
}
