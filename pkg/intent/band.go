package intent

// TrustBand is a discretized range of the trust score used to gate
// capability. Boundaries follow the trust progression ladder: each band
// spans 20 points of score, with everything at or above 80 exemplary.
type TrustBand string

const (
	BandProbationary TrustBand = "probationary"
	BandProvisional  TrustBand = "provisional"
	BandCertified    TrustBand = "certified"
	BandTrusted      TrustBand = "trusted"
	BandExemplary    TrustBand = "exemplary"
)

// bandOrder ranks bands for capability comparisons.
var bandOrder = map[TrustBand]int{
	BandProbationary: 0,
	BandProvisional:  1,
	BandCertified:    2,
	BandTrusted:      3,
	BandExemplary:    4,
}

// BandFromScore maps a trust score to its band. Negative scores clamp to
// probationary.
func BandFromScore(score float64) TrustBand {
	switch {
	case score < 20:
		return BandProbationary
	case score < 40:
		return BandProvisional
	case score < 60:
		return BandCertified
	case score < 80:
		return BandTrusted
	default:
		return BandExemplary
	}
}

// AtLeast reports whether b grants at least the capability of min.
func (b TrustBand) AtLeast(min TrustBand) bool {
	return bandOrder[b] >= bandOrder[min]
}

// MinScore returns the lowest score that maps to the band.
func (b TrustBand) MinScore() float64 {
	switch b {
	case BandProvisional:
		return 20
	case BandCertified:
		return 40
	case BandTrusted:
		return 60
	case BandExemplary:
		return 80
	default:
		return 0
	}
}
