package model

import "context"

// Analyzer defines the standard interface for an AI analyzer.
type Analyzer interface {
	// AnalyzeAlerts receives a text summary of triggered alerts and returns
	// the analysis result from the AI model.
	AnalyzeAlerts(ctx context.Context, input string) (string, error)
}
