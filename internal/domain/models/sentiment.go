package models

import "time"

type SentimentLabel string

const (
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentPositive SentimentLabel = "positive"
)

// Labels lists classes in index order used by the classifier.
var Labels = []SentimentLabel{SentimentNegative, SentimentNeutral, SentimentPositive}

// FeatureNames lists classifier inputs in column order.
var FeatureNames = []string{"rsi", "macd", "price_change_1d", "price_change_5d", "price_change_20d", "volatility"}

const NumFeatures = 6

// FeatureRow holds the indicator vector computed for one trading day.
type FeatureRow struct {
	Date   time.Time
	Values [NumFeatures]float64
}

type TrainingMetrics struct {
	TrainingID        string             `json:"training_id"`
	Accuracy          float64            `json:"accuracy"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	TrainingSamples   int                `json:"training_samples"`
	TestSamples       int                `json:"test_samples"`
	ClassCounts       map[string]int     `json:"class_counts"`
	SymbolsUsed       []string           `json:"symbols_used"`
	SymbolsSkipped    []string           `json:"symbols_skipped,omitempty"`
	ModelVersion      string             `json:"model_version"`
	TrainedAt         time.Time          `json:"trained_at"`
}

type NewsSentiment struct {
	SentimentLabel SentimentLabel `json:"sentiment_label"`
	Confidence     float64        `json:"confidence"`
}

type SentimentPrediction struct {
	Symbol                 string             `json:"symbol"`
	TechnicalSentiment     SentimentLabel     `json:"technical_sentiment"`
	TechnicalProbabilities map[string]float64 `json:"technical_probabilities"`
	NewsSentiment          NewsSentiment      `json:"news_sentiment"`
	CombinedSentiment      SentimentLabel     `json:"combined_sentiment"`
	Confidence             float64            `json:"confidence"`
	ModelVersion           string             `json:"modelVersion"`
	Timestamp              time.Time          `json:"timestamp"`
}

// NeutralPrediction is returned when no model or no usable features exist.
func NeutralPrediction(symbol, version string, now time.Time) SentimentPrediction {
	probs := make(map[string]float64, len(Labels))
	for _, l := range Labels {
		probs[string(l)] = 0
	}
	return SentimentPrediction{
		Symbol:                 symbol,
		TechnicalSentiment:     SentimentNeutral,
		TechnicalProbabilities: probs,
		NewsSentiment:          NewsSentiment{SentimentLabel: SentimentNeutral},
		CombinedSentiment:      SentimentNeutral,
		Confidence:             0,
		ModelVersion:           version,
		Timestamp:              now,
	}
}
