package domain

// Intent is the classified record for one user turn, produced by an external
// classifier. The engine treats it as read-only input.
type Intent struct {
	Name          string         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	Method        string         `json:"method,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
}
