package display

// Histogram is a per-tile intensity histogram.
type Histogram struct {
	Hist     []int     `json:"hist"`
	BinEdges []float64 `json:"bin_edges"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Samples  int       `json:"samples"`
}

// EmptyHistogram returns the canonical histogram of no samples.
func EmptyHistogram() Histogram {
	return Histogram{
		Hist:     []int{0, 0},
		BinEdges: []float64{0, 0.5},
		Min:      0,
		Max:      1,
		Samples:  0,
	}
}

// MergeHistograms combines tile histograms.
//
// TODO: merge bins of more than one histogram; only the first is returned today.
func MergeHistograms(histograms []Histogram) Histogram {
	if len(histograms) == 0 {
		return EmptyHistogram()
	}
	return histograms[0]
}
