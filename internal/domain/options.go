package domain

import (
	"fmt"
	"strings"
)

// Quality is the coarse processing-depth knob.
type Quality string

const (
	QualityLow    Quality = "LOW"
	QualityMedium Quality = "MEDIUM"
	QualityHigh   Quality = "HIGH"
)

// Mode is the integrity policy: which visual aspect must survive unchanged.
type Mode string

const (
	ModeExpression Mode = "EXPRESSION"
	ModeGeometry   Mode = "GEOMETRY"
	ModeTexture    Mode = "TEXTURE"
	ModeColorOnly  Mode = "COLOR_ONLY"
)

// Resolution is the requested output size class.
type Resolution string

const (
	ResolutionFHD Resolution = "FHD"
	Resolution2K  Resolution = "2K"
	Resolution4K  Resolution = "4K"
	Resolution8K  Resolution = "8K"
)

// Resolutions lists the tiers from lowest to highest.
var Resolutions = []Resolution{ResolutionFHD, Resolution2K, Resolution4K, Resolution8K}

// Options is the global option set captured when an enhancement starts.
type Options struct {
	Quality     Quality    `json:"quality"`
	Mode        Mode       `json:"mode"`
	Resolution  Resolution `json:"resolution"`
	Instruction string     `json:"instruction,omitempty"`
}

// DefaultOptions mirrors the workbench defaults.
func DefaultOptions() Options {
	return Options{
		Quality:    QualityMedium,
		Mode:       ModeExpression,
		Resolution: ResolutionFHD,
	}
}

// IsMax reports whether r is the highest tier.
func (r Resolution) IsMax() bool {
	return r == Resolutions[len(Resolutions)-1]
}

// IsLowest reports whether r is the base tier.
func (r Resolution) IsLowest() bool {
	return r == Resolutions[0]
}

// ParseQuality normalises free-form input into a Quality.
func ParseQuality(v string) (Quality, error) {
	switch q := Quality(strings.ToUpper(strings.TrimSpace(v))); q {
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	}
	return "", fmt.Errorf("unknown quality %q", v)
}

// ParseMode normalises free-form input into a Mode.
func ParseMode(v string) (Mode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(v))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch m := Mode(normalized); m {
	case ModeExpression, ModeGeometry, ModeTexture, ModeColorOnly:
		return m, nil
	}
	return "", fmt.Errorf("unknown integrity mode %q", v)
}

// ParseResolution normalises free-form input into a Resolution.
func ParseResolution(v string) (Resolution, error) {
	normalized := strings.ToUpper(strings.TrimSpace(v))
	if normalized == "1K" {
		normalized = string(ResolutionFHD)
	}
	for _, r := range Resolutions {
		if string(r) == normalized {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resolution %q", v)
}

// Normalize returns o with every enum in its canonical form, or an error
// naming the first unknown value.
func (o Options) Normalize() (Options, error) {
	q, err := ParseQuality(string(o.Quality))
	if err != nil {
		return Options{}, err
	}
	m, err := ParseMode(string(o.Mode))
	if err != nil {
		return Options{}, err
	}
	res, err := ParseResolution(string(o.Resolution))
	if err != nil {
		return Options{}, err
	}
	return Options{
		Quality:     q,
		Mode:        m,
		Resolution:  res,
		Instruction: strings.TrimSpace(o.Instruction),
	}, nil
}

// Validate rejects option sets with unknown enum values.
func (o Options) Validate() error {
	_, err := o.Normalize()
	return err
}
