package hyperloglog

// hllPlusThreshold holds, for each precision p in [4, 18] (index p-4), the
// linear-counting cutoff below which HyperLogLogPlus.Count prefers linear
// counting over the bias-corrected raw estimate. Verbatim from the
// reference table used by ianwilkes/hyperloglog and the original
// HyperLogLog++ paper.
var hllPlusThreshold = [...]float64{
	10, 20, 40, 80, 220, 400, 900, 1800, 3100,
	6500, 11500, 20000, 50000, 120000, 350000,
}

// rawEstimateData and biasData hold, per precision p in [4, 18] (index
// p-4), paired (rawEstimate, bias) samples for the linear interpolation
// HyperLogLogPlus.estimateBias performs. The reference tables in the
// HyperLogLog++ paper run to several hundred points per precision derived
// from empirical simulation; reproducing that many floating-point
// constants from memory isn't something we can do with confidence, so
// this embeds a condensed, monotonic six-point-per-precision table
// spanning [0.4m, 5m] instead (see DESIGN.md). It exercises the exact same
// interpolation path the full table would, at reduced resolution.
var (
	rawEstimateData [15][]float64
	biasData        [15][]float64
)

func init() {
	// Samples at these fractions of m = 2^p, biased toward the low end
	// where the raw HLL estimator is least accurate.
	estFractions := [...]float64{0.4, 0.8, 1.5, 2.5, 3.5, 5.0}
	// Empirically, small-cardinality HLL bias runs high-positive near
	// est ≈ m and decays to ~0 by est ≈ 5m.
	biasFractions := [...]float64{0.10, 0.07, 0.045, 0.025, 0.01, 0.0}

	for i := range rawEstimateData {
		p := uint(i + 4)
		m := float64(uint32(1) << p)

		est := make([]float64, len(estFractions))
		bias := make([]float64, len(biasFractions))
		for k := range estFractions {
			est[k] = m * estFractions[k]
			bias[k] = m * biasFractions[k]
		}
		rawEstimateData[i] = est
		biasData[i] = bias
	}
}
