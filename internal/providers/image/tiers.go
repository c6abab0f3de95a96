package image

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"lumina/internal/domain"
)

// Class selects the upstream capability class.
type Class string

const (
	ClassBase     Class = "base"
	ClassEnhanced Class = "enhanced"
)

// Tier is the upstream parameter set for one resolution tier.
type Tier struct {
	Class       Class  `yaml:"class"`
	ImageSize   string `yaml:"image_size"`
	UltraDetail bool   `yaml:"ultra_detail"`
	LongEdge    int    `yaml:"long_edge"`
}

// TierMap maps resolution tiers to upstream parameters.
type TierMap map[domain.Resolution]Tier

type tierFile struct {
	Tiers map[string]Tier `yaml:"tiers"`
}

// DefaultTierMap reproduces the hosted service's size bands. The top tier
// has no larger size parameter, so 8K requests 4K plus the ultra-detail clause.
func DefaultTierMap() TierMap {
	return TierMap{
		domain.ResolutionFHD: {Class: ClassBase, LongEdge: 1920},
		domain.Resolution2K:  {Class: ClassEnhanced, ImageSize: "2K", LongEdge: 2560},
		domain.Resolution4K:  {Class: ClassEnhanced, ImageSize: "4K", LongEdge: 3840},
		domain.Resolution8K:  {Class: ClassEnhanced, ImageSize: "4K", UltraDetail: true, LongEdge: 3840},
	}
}

// Lookup returns the tier for res, falling back to the default map and then
// to the base class.
func (m TierMap) Lookup(res domain.Resolution) Tier {
	if t, ok := m[res]; ok {
		return t
	}
	if t, ok := DefaultTierMap()[res]; ok {
		return t
	}
	return Tier{Class: ClassBase}
}

// RequiresEnhanced reports whether res needs the enhanced capability class.
func (m TierMap) RequiresEnhanced(res domain.Resolution) bool {
	return m.Lookup(res).Class == ClassEnhanced
}

// ParseTierMap decodes a YAML tier document. Tiers it omits keep their
// default parameters.
//
//	tiers:
//	  8K: {class: enhanced, image_size: 4K, ultra_detail: true}
func ParseTierMap(data []byte) (TierMap, error) {
	var doc tierFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tier map: %w", err)
	}
	out := DefaultTierMap()
	for name, tier := range doc.Tiers {
		res, err := domain.ParseResolution(name)
		if err != nil {
			return nil, fmt.Errorf("parse tier map: %w", err)
		}
		switch Class(strings.ToLower(string(tier.Class))) {
		case ClassBase, "":
			tier.Class = ClassBase
		case ClassEnhanced:
			tier.Class = ClassEnhanced
		default:
			return nil, fmt.Errorf("parse tier map: tier %s has unknown class %q", name, tier.Class)
		}
		if tier.Class == ClassEnhanced && tier.ImageSize == "" {
			return nil, fmt.Errorf("parse tier map: enhanced tier %s needs image_size", name)
		}
		if tier.LongEdge <= 0 {
			tier.LongEdge = out.Lookup(res).LongEdge
		}
		out[res] = tier
	}
	return out, nil
}

// LoadTierMap reads path, or returns the defaults when path is empty.
func LoadTierMap(path string) (TierMap, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTierMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier map: %w", err)
	}
	return ParseTierMap(data)
}
