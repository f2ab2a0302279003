package tools

import "github.com/voxdesk/voxdesk/pkg/llm"

// Tool names exposed to the model. The tenant id is injected server-side
// and never accepted from model arguments.
const (
	ToolGetLatestBooking    = "get_latest_booking"
	ToolGetBookingByID      = "get_booking_by_id"
	ToolGetBusinessServices = "get_business_services"
	ToolGetWorkingHours     = "get_working_hours"
	ToolGetPolicies         = "get_policies"
	ToolGetFAQs             = "get_faqs"
)

func knownTool(name string) bool {
	switch name {
	case ToolGetLatestBooking, ToolGetBookingByID, ToolGetBusinessServices,
		ToolGetWorkingHours, ToolGetPolicies, ToolGetFAQs:
		return true
	}
	return false
}

// Specs returns the function schemas declared to the model.
func Specs() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolGetLatestBooking,
			Description: "Look up the caller's most recent booking. Uses the caller's phone number unless another is given.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"customer_phone": map[string]any{
						"type":        "string",
						"description": "Customer phone in E.164 format. Defaults to the caller's number.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolGetBookingByID,
			Description: "Look up a booking by its booking ID.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"booking_id": map[string]any{
						"type":        "string",
						"description": "The booking ID the caller provided.",
					},
				},
				"required":             []string{"booking_id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolGetBusinessServices,
			Description: "List the services this business offers, with durations and prices.",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolGetWorkingHours,
			Description: "Get the business opening hours for each day of the week.",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolGetPolicies,
			Description: "Get business policies on a topic, such as cancellation, pricing, or parking.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "Policy topic to look up, e.g. cancellation, pricing, parking.",
					},
				},
				"required":             []string{"topic"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolGetFAQs,
			Description: "Get frequently asked questions and answers on a topic.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "FAQ topic to look up.",
					},
				},
				"required":             []string{"topic"},
				"additionalProperties": false,
			},
		},
	}
}
