// Package distance wraps the distance-matrix provider: it sends one batch
// request, classifies provider outcomes and retries transient failures with
// exponential backoff behind the per-tenant rate limit gate.
package distance

// Provider-level response statuses.
const (
	StatusOK                    = "OK"
	StatusInvalidRequest        = "INVALID_REQUEST"
	StatusMaxElementsExceeded   = "MAX_ELEMENTS_EXCEEDED"
	StatusMaxDimensionsExceeded = "MAX_DIMENSIONS_EXCEEDED"
	StatusOverDailyLimit        = "OVER_DAILY_LIMIT"
	StatusOverQueryLimit        = "OVER_QUERY_LIMIT"
	StatusRequestDenied         = "REQUEST_DENIED"
	StatusUnknownError          = "UNKNOWN_ERROR"
)

// Element-level statuses.
const (
	ElementOK                     = "OK"
	ElementNotFound               = "NOT_FOUND"
	ElementZeroResults            = "ZERO_RESULTS"
	ElementMaxRouteLengthExceeded = "MAX_ROUTE_LENGTH_EXCEEDED"
)

// Statuses synthesized by the client for failures that never reached a
// provider-level status. StatusInvalidResponse also marks an OK element that
// carries no duration.
const (
	StatusNetworkError    = "NETWORK_ERROR"
	StatusInvalidResponse = "INVALID_RESPONSE"
)

// Request is one batch: every origin against every destination.
type Request struct {
	TenantID     string
	Priority     int
	Origins      []string
	Destinations []string
}

// Elements returns the number of origin/destination elements in the request.
func (r Request) Elements() int {
	return len(r.Origins) * len(r.Destinations)
}

// Element is the provider's result for one origin/destination pair.
type Element struct {
	Status                 string
	DurationSeconds        int
	TrafficDurationSeconds int
	HasTraffic             bool
	DistanceMeters         int
}

// OK reports whether the provider resolved a route for the element.
func (e Element) OK() bool {
	return e.Status == ElementOK
}

// Matrix holds results indexed [originIdx][destIdx].
type Matrix struct {
	Rows     [][]Element
	Attempts int
}

// At returns the element for an origin/destination index pair.
func (m *Matrix) At(origin, destination int) Element {
	return m.Rows[origin][destination]
}

// wire format of the provider response
type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Rows         []struct {
		Elements []wireElement `json:"elements"`
	} `json:"rows"`
}

type wireElement struct {
	Status            string   `json:"status"`
	Duration          *measure `json:"duration,omitempty"`
	DurationInTraffic *measure `json:"duration_in_traffic,omitempty"`
	Distance          *measure `json:"distance,omitempty"`
}

type measure struct {
	Value float64 `json:"value"`
	Text  string  `json:"text,omitempty"`
}
