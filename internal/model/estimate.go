package model

import (
	"time"
)

// ServiceRow is one line of a structured cost estimate.
type ServiceRow struct {
	ServiceName          string   `json:"service_name"`
	Assumptions          []string `json:"assumptions"`
	Quantity             string   `json:"quantity"`
	PriceRate            string   `json:"price_rate"`
	EstimatedMonthlyCost string   `json:"estimated_monthly_cost"`
}

// Result is what the display surface receives after stage 2.
type Result struct {
	Stage Stage  `json:"stage"`
	Raw   string `json:"raw"`

	// Populated only when the structured reply parsed.
	Tabular  bool         `json:"tabular"`
	Rows     []ServiceRow `json:"rows,omitempty"`
	Total    float64      `json:"total,omitempty"`
	Markdown string       `json:"markdown,omitempty"`

	ParseError string `json:"parse_error,omitempty"`
}

// ImageInfo is the image-received signal.
type ImageInfo struct {
	Format     string    `json:"format"`
	Bytes      int       `json:"bytes"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ReceivedAt time.Time `json:"received_at"`
}

// UploadResponse is returned once both stages have run.
type UploadResponse struct {
	SessionID      string     `json:"session_id"`
	State          string     `json:"state"`
	Image          *ImageInfo `json:"image"`
	Identification string     `json:"identification"`
	Result         *Result    `json:"result"`
}
