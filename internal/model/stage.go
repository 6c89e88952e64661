package model

// Stage is one phase of the prompt protocol.
type Stage string

const (
	StageIdentifyServices Stage = "identify_services"
	StageEstimateCost     Stage = "estimate_cost"
	StageOptimise         Stage = "optimise"
	StageFollowUp         Stage = "follow_up"
)

// Mode selects which stage-2 prompt a session runs after identification.
type Mode string

const (
	ModeEstimate Mode = "estimate"
	ModeOptimise Mode = "optimise"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeEstimate || m == ModeOptimise
}

// Stage returns the stage-2 stage for the mode.
func (m Mode) Stage() Stage {
	if m == ModeOptimise {
		return StageOptimise
	}
	return StageEstimateCost
}

// ResponseContract declares that a reply must be a single JSON object of a
// fixed shape. A nil *ResponseContract means unstructured prose.
type ResponseContract struct {
	Name string
	// Shape is a human-readable description of the object, given to
	// backends that cannot enforce JSON on their own.
	Shape string
}

// EstimateContract is the structured cost estimate shape.
var EstimateContract = &ResponseContract{
	Name: "cost_estimate",
	Shape: `{"services": [{"service_name": string, "assumptions": [string], "quantity": string, ` +
		`"price_rate": string, "estimated_monthly_cost": string}], "total_estimated_monthly_cost": number}`,
}
