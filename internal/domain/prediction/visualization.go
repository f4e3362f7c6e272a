package prediction

// ModelVersion identifies the rule set that produced a prediction.
const ModelVersion = "1.0.0-rule-based"

// Gauge colors by probability band.
const (
	ColorHigh   = "#10B981"
	ColorMedium = "#F59E0B"
	ColorLow    = "#EF4444"
)

// Gauge is one probability bar of the chart.
type Gauge struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// VisualizationMeta describes the model behind a chart.
type VisualizationMeta struct {
	ModelVersion  string `json:"modelVersion"`
	FeatureCount  int    `json:"featureCount"`
	HistoryLength int    `json:"historyLength"`
}

// Visualization is chart-ready data for a prediction.
type Visualization struct {
	ChartData       []Gauge             `json:"chartData"`
	ConfidenceLevel float64             `json:"confidenceLevel"`
	FeatureBars     []NormalizedFeature `json:"featureBars"`
	Metadata        VisualizationMeta   `json:"metadata"`
}

// ColorFor maps a probability to its band color.
func ColorFor(p float64) string {
	switch {
	case p >= 0.7:
		return ColorHigh
	case p >= 0.5:
		return ColorMedium
	default:
		return ColorLow
	}
}

// Visualize converts a result into percentages and colors.
func Visualize(r Result) Visualization {
	v := Visualization{
		ChartData: []Gauge{
			{Label: "graduation", Value: r.GraduationProbability * 100, Color: ColorFor(r.GraduationProbability)},
			{Label: "national exam", Value: r.NationalExamProbability * 100, Color: ColorFor(r.NationalExamProbability)},
		},
		ConfidenceLevel: r.Confidence * 100,
		FeatureBars:     []NormalizedFeature{},
		Metadata:        VisualizationMeta{ModelVersion: ModelVersion},
	}
	if r.Features != nil {
		v.FeatureBars = r.Features.Normalized()
		v.Metadata.FeatureCount = len(v.FeatureBars)
		v.Metadata.HistoryLength = r.Features.HistoryLength
	}
	return v
}
