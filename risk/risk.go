package risk

import "github.com/evdnx/goguard/instrument"

// CalcQty sizes an entry so that hitting a stop stopDist away loses
// maxRisk of equity. The result is normalised to the instrument's volume
// step and limits; 0 means the trade should be skipped.
func CalcQty(equity, maxRisk, stopDist float64, inst instrument.Instrument) float64 {
	if equity <= 0 || maxRisk <= 0 || stopDist <= 0 {
		return 0
	}
	// Dollar risk per trade
	riskAmt := equity * maxRisk
	// Loss of one unit of volume at the stop
	perUnit := inst.Money(stopDist, 1)
	if perUnit <= 0 {
		return 0
	}
	return inst.NormalizeVolume(riskAmt / perUnit)
}
