package image

import (
	"strings"

	"lumina/internal/domain"
)

const restorationFrame = `Act as a professional high-end photo retoucher and lighting expert.
This is a technical restoration of the supplied photograph, not a generative alteration.
Do not add, remove or reinvent subjects, objects or scenery.`

var integrityClauses = map[domain.Mode]string{
	domain.ModeExpression: `INTEGRITY (HIGHEST PRIORITY): preserve identity and expression.
- Keep every human face exactly as it is in anatomy, bone structure and expression.
- Do not alter identity, smile, eye shape or subtle facial movements.
- The goal is to see the person better, not to change who they are.`,
	domain.ModeGeometry: `INTEGRITY (HIGHEST PRIORITY): preserve geometry.
- Keep every line, edge, perspective and proportion exactly where it is.
- Do not straighten, warp, re-frame or re-compose anything.
- Architecture, products and text must keep their exact shape and layout.`,
	domain.ModeTexture: `INTEGRITY (HIGHEST PRIORITY): preserve texture and grain.
- Keep the original film grain, skin pores and surface texture.
- Do not smooth, denoise into plastic or airbrush any surface.
- Detail recovery must reveal existing texture, never synthesise new texture.`,
	domain.ModeColorOnly: `INTEGRITY (HIGHEST PRIORITY): color correction only.
- Change only exposure, white balance and color.
- Do not sharpen, denoise, upscale detail or touch any structure.
- Every pixel position and edge must remain as in the original.`,
}

const lightingClause = `LIGHTING & COLOR FIDELITY:
- Identify and fix backlit subjects with careful shadow recovery.
- Tone down blown highlights such as sky or windows for a balanced, natural HDR look.
- Adjust white balance for natural, skin-friendly tones consistent with the original light.`

const ultraDetailClause = `ULTRA DETAIL:
- Render at the largest output size with super-resolution fidelity.
- Recover the finest micro-detail present in the source without inventing content.`

var qualityClauses = map[domain.Quality]string{
	domain.QualityLow: `PROCESSING DEPTH: basic.
- Focus on essential exposure correction and primary color balance.
- Use moderate sharpening for a clean, natural look.`,
	domain.QualityMedium: `PROCESSING DEPTH: advanced.
- Apply intelligent sharpening to emphasise textures and micro-contrast.
- Enhance color depth for a professional cinematic feel.
- Smooth noise in recovered shadows while keeping original skin texture.`,
	domain.QualityHigh: `PROCESSING DEPTH: maximum.
- Prioritise pixel-accurate texture recovery and extreme precision in shadow recovery.
- Apply multi-layered color grading for maximum depth.
- Use meticulous noise reduction that mimics a high-end full-frame sensor.`,
}

const outputClause = "The output must be ONLY the enhanced version of the image."

// BuildInstruction renders the instruction text for opts. The same inputs
// always produce the same text. Unknown enum values fall back to the
// defaults so a stale option set still yields a usable instruction.
func BuildInstruction(opts domain.Options, ultraDetail bool) string {
	defaults := domain.DefaultOptions()

	sections := []string{restorationFrame}

	integrity, ok := integrityClauses[opts.Mode]
	if !ok {
		integrity = integrityClauses[defaults.Mode]
	}
	sections = append(sections, integrity, lightingClause)

	if ultraDetail {
		sections = append(sections, ultraDetailClause)
	}

	quality, ok := qualityClauses[opts.Quality]
	if !ok {
		quality = qualityClauses[defaults.Quality]
	}
	sections = append(sections, quality)

	if custom := strings.TrimSpace(opts.Instruction); custom != "" {
		sections = append(sections, "USER REQUEST (apply only where it does not conflict with the INTEGRITY rule above, which always wins):\n"+custom)
	}

	sections = append(sections, outputClause)
	return strings.Join(sections, "\n\n")
}
