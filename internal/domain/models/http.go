package models

// Requests for engine HTTP endpoints.

type OptimizeRequest struct {
	Symbols       []string `json:"symbols" validate:"required,min=1,max=50,dive,max=20"`
	RiskTolerance string   `json:"risk_tolerance" default:"moderate" validate:"oneof=conservative moderate aggressive"`
	TargetReturn  *float64 `json:"target_return" validate:"omitempty,gte=-1,lte=5"`
}

type FrontierRequest struct {
	Symbols       []string `json:"symbols" validate:"required,min=1,max=50,dive,max=20"`
	NumPortfolios int      `json:"num_portfolios" default:"100"`
}

type TrainRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100,dive,max=20"`
}

type SentimentRequest struct {
	Symbol string `param:"symbol" validate:"required,max=20"`
}

type HistoryRequest struct {
	Symbol string `query:"symbol" validate:"required,max=20"`
	Days   int    `query:"days" default:"365" validate:"gte=30,lte=3650"`
}

type JobStatusRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}
