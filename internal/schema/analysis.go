package schema

// AnalysisResponse is the quality verdict for a recording.
type AnalysisResponse struct {
	Valid           bool    `json:"valid" msgpack:"valid"`
	Reason          string  `json:"reason" msgpack:"reason"`
	Message         string  `json:"message" msgpack:"message"`
	DurationSeconds float64 `json:"duration_seconds" msgpack:"duration_seconds"`
	RMSLevel        float64 `json:"rms_level" msgpack:"rms_level"`
	PeakLevel       float64 `json:"peak_level" msgpack:"peak_level"`
}
