// Package styles provides the fixed style catalog: named positive/negative
// prompt fragments spliced into the free-text fields before moderation runs.
package styles

import "strings"

// Style is one selectable entry of the catalog.
type Style struct {
	ID       string
	Name     string
	Positive string
	Negative string
}

var catalog = []Style{
	{ID: "style1", Name: "Dipinto rinascimentale", Positive: "renaissance painting, highly detailed, vibrant colors, 4k, trending on artstation, masterpiece", Negative: "modern, digital, pixelated, low quality"},
	{ID: "style2", Name: "Disegno a matita", Positive: "pencil sketch, detailed linework, monochrome, hatching, cross-hatching, artistic drawing", Negative: "colorful, painted, digital, photorealistic"},
	{ID: "style3", Name: "Quadro impressionista", Positive: "impressionist style, soft brush strokes, vibrant colors, natural light", Negative: "sharp, defined edges, digital"},
	{ID: "style4", Name: "Cartone animato", Positive: "cartoon style, bold outlines, bright colors, exaggerated features", Negative: "realistic, photorealistic, dark, gritty"},
	{ID: "style5", Name: "Quadro ad acquerello", Positive: "watercolor, soft washes, delicate details, nature scenes", Negative: "oil painting, thick paint, heavy brushstrokes"},
	{ID: "style6", Name: "Illustrazione giapponese", Positive: "japanese painting style", Negative: "realistic, photorealistic, curved lines"},
	{ID: "style7", Name: "Quadro astratto", Positive: "kandinsky style, abstract shapes, vibrant colors, geometric patterns", Negative: "realistic, figurative, photorealistic"},
	{ID: "style8", Name: "Quadro di Kandinsky", Positive: "kandinsky style, abstract shapes, vibrant colors, geometric patterns", Negative: "realistic, figurative, photorealistic"},
	{ID: "style9", Name: "Dipinto art nouveau", Positive: "art nouveau, flowing lines, organic shapes, intricate details", Negative: "geometric, angular, minimalist"},
	{ID: "style10", Name: "Vector style", Positive: "vector style illustration, bidimensional", Negative: "realistic"},
	{ID: "style11", Name: "Pop-art", Positive: "pop art, bold colors, comic book style, cultural references", Negative: "muted colors, realistic, classical"},
	{ID: "style12", Name: "Steampunk", Positive: "steampunk style, intricate details, Victorian aesthetics, machinery, gears", Negative: "modern, minimalistic, flat design"},
}

// All returns the catalog in display order.
func All() []Style {
	out := make([]Style, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the style with the given id.
func Lookup(id string) (Style, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}

// Compose splices the selected styles' fragments onto the user's prompts,
// comma-separated, skipping unknown ids. The result still goes through
// moderation downstream.
func Compose(positive, negative string, ids ...string) (string, string) {
	posParts := []string{strings.TrimSpace(positive)}
	negParts := []string{strings.TrimSpace(negative)}
	for _, id := range ids {
		s, ok := Lookup(id)
		if !ok {
			continue
		}
		posParts = append(posParts, s.Positive)
		if s.Negative != "" {
			negParts = append(negParts, s.Negative)
		}
	}
	return joinNonEmpty(posParts), joinNonEmpty(negParts)
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
