// Package extract turns the rendered text of the power-flow view into a
// Snapshot. It performs no I/O and never fails: anything it cannot find or
// parse is left absent.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/powerwatch/models"
)

var (
	reLoad   = regexp.MustCompile(`Load:\s*([+\-\x{2212}]?)\s*(\d+)\s*W`)
	reSoC    = regexp.MustCompile(`SoC:\s*(\d+)\s*%`)
	rePrice  = regexp.MustCompile(`(?is)mfrr[^\d+\-\x{2212}]{0,60}?([+\-\x{2212}]?\d+(?:[.,]\d+)?)`)
	reMetric = regexp.MustCompile(`^(Load|SoC):`)
)

// Snapshot builds a snapshot from the element texts of the current view,
// given in document order. Each device and the price are looked up
// independently, so a missing card never affects the others.
func Snapshot(texts []string, at time.Time) *models.Snapshot {
	snap := &models.Snapshot{Timestamp: at}

	for _, dev := range models.Devices {
		frag, ok := DeviceRules[dev].Find(texts)
		if !ok {
			continue
		}
		snap.SetReading(dev, models.Reading{
			Load:   ParseLoad(frag),
			Status: ParseStatus(frag),
		})
		if dev == models.DeviceBattery {
			snap.Battery.StateOfCharge = ParseSoC(frag)
		}
	}

	if frag, ok := PriceRule.Find(texts); ok {
		snap.BalancingPrice = ParsePrice(frag)
	}
	return snap
}

// ParseLoad extracts the signed integer watts following "Load:".
func ParseLoad(fragment string) *int {
	m := reLoad.FindStringSubmatch(fragment)
	if m == nil {
		return nil
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	if m[1] == "-" || m[1] == "−" {
		v = -v
	}
	return models.Int(v)
}

// ParseSoC extracts the battery state of charge percentage.
func ParseSoC(fragment string) *int {
	m := reSoC.FindStringSubmatch(fragment)
	if m == nil {
		return nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v > 100 {
		return nil
	}
	return models.Int(v)
}

// ParseStatus returns the second non-empty line of the fragment. The card
// renders the device name first and its status label directly below it.
func ParseStatus(fragment string) *string {
	var lines []string
	for _, l := range strings.Split(fragment, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return nil
	}
	status := lines[1]
	if reMetric.MatchString(status) {
		return nil
	}
	return models.String(status)
}

// ParsePrice extracts the number following the mFRR token. An optional
// currency symbol and a decimal comma are tolerated.
func ParsePrice(fragment string) *float64 {
	m := rePrice.FindStringSubmatch(fragment)
	if m == nil {
		return nil
	}
	raw := strings.NewReplacer(",", ".", "−", "-").Replace(m[1])
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return models.Float(v)
}
