package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/use-agent/powerwatch/models"
)

// Rule describes how to locate the text fragment of one field among the
// rendered element texts of the flow view.
//
// An element matches when its text contains Label and Marker and is shorter
// than MaxLength runes. The length ceiling keeps the match on the leaf card
// instead of an ancestor container that also contains the label.
type Rule struct {
	Label     string
	Marker    string
	MaxLength int

	// IgnoreCase matches Label and Marker case-insensitively.
	IgnoreCase bool
}

// Match reports whether text satisfies the rule.
func (r Rule) Match(text string) bool {
	if r.MaxLength > 0 && utf8.RuneCountInString(text) >= r.MaxLength {
		return false
	}
	hay, label, marker := text, r.Label, r.Marker
	if r.IgnoreCase {
		hay, label, marker = strings.ToLower(hay), strings.ToLower(label), strings.ToLower(marker)
	}
	return strings.Contains(hay, label) && strings.Contains(hay, marker)
}

// Find returns the first text, in document order, matching the rule.
func (r Rule) Find(texts []string) (string, bool) {
	for _, t := range texts {
		if r.Match(t) {
			return t, true
		}
	}
	return "", false
}

const (
	deviceMaxLength = 200
	priceMaxLength  = 1000
)

// DeviceRules is the lookup table for the device cards.
var DeviceRules = map[models.Device]Rule{
	models.DeviceSolar:       {Label: string(models.DeviceSolar), Marker: "Load:", MaxLength: deviceMaxLength},
	models.DeviceGrid:        {Label: string(models.DeviceGrid), Marker: "Load:", MaxLength: deviceMaxLength},
	models.DeviceBattery:     {Label: string(models.DeviceBattery), Marker: "Load:", MaxLength: deviceMaxLength},
	models.DeviceCar:         {Label: string(models.DeviceCar), Marker: "Load:", MaxLength: deviceMaxLength},
	models.DeviceConsumption: {Label: string(models.DeviceConsumption), Marker: "Load:", MaxLength: deviceMaxLength},
}

// PriceRule locates the balancing price. Its rendering context is less
// constrained than the device cards, hence the larger ceiling.
var PriceRule = Rule{Label: "mfrr", MaxLength: priceMaxLength, IgnoreCase: true}
