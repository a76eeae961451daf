package classify

import (
	"math"

	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// barsToDBm estimates a reading from the upstream's 0-5 bar score.
var barsToDBm = map[int]float64{5: -45, 4: -55, 3: -65, 2: -75, 1: -85, 0: -90}

// ClassifyFrequency returns the display string and band for a radio interface.
func ClassifyFrequency(iface *cloudapi.Interface) (string, model.FrequencyBand) {
	if iface == nil {
		return "N/A", model.BandUnknown
	}
	freq := iface.Frequency
	if !freq.Valid {
		return "N/A", model.BandUnknown
	}

	display := freq.Raw + " GHz"
	switch f := freq.Value; {
	case f >= 2.4 && f < 2.5:
		return display, model.Band24GHz
	case f >= 5.0 && f < 6.0:
		return display, model.Band5GHz
	case f >= 6.0 && f < 7.0:
		return display, model.Band6GHz
	default:
		return display, model.BandUnknown
	}
}

// SignalPercent maps dBm linearly onto 0..100.
func SignalPercent(dbm float64) int {
	switch {
	case dbm >= -50:
		return 100
	case dbm <= -100:
		return 0
	default:
		return int(math.Round(2 * (dbm + 100)))
	}
}

func SignalQuality(dbm *float64) model.SignalQuality {
	if dbm == nil {
		return model.QualityUnknown
	}
	switch v := *dbm; {
	case v >= -50:
		return model.QualityExcellent
	case v >= -60:
		return model.QualityVeryGood
	case v >= -70:
		return model.QualityGood
	case v >= -80:
		return model.QualityFair
	default:
		return model.QualityPoor
	}
}

// SignalDBm picks the best available reading: the interface value, then the
// upstream average, then an estimate from the bar score.
func SignalDBm(device cloudapi.RawDevice) *float64 {
	if device.Interface != nil {
		if v := device.Interface.SignalDBm.Ptr(); v != nil {
			return v
		}
	}
	if device.Connectivity == nil {
		return nil
	}
	if v := device.Connectivity.SignalAvg.Ptr(); v != nil {
		return v
	}
	if !device.Connectivity.ScoreBars.Valid {
		return nil
	}
	bars := int(math.Round(device.Connectivity.ScoreBars.Value))
	if bars > 5 {
		bars = 5
	}
	if bars < 0 {
		bars = 0
	}
	estimate := barsToDBm[bars]
	return &estimate
}
