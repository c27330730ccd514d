package httpapi

// SpeechRequest is the OpenAI-compatible synthesis request body. The
// canonical field is "input"; "text" is accepted as an alias for clients
// built against the legacy Orpheus API.
type SpeechRequest struct {
	Model             string  `json:"model,omitempty"`
	Input             string  `json:"input,omitempty"`
	Text              string  `json:"text,omitempty"`
	Voice             string  `json:"voice,omitempty"`
	ResponseFormat    string  `json:"response_format,omitempty"`
	Speed             float64 `json:"speed,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

func (r SpeechRequest) text() string {
	if r.Input != "" {
		return r.Input
	}
	return r.Text
}

type errorBody struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type voiceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default,omitempty"`
}

type voicesResponse struct {
	Voices []voiceInfo `json:"voices"`
}

type capabilitiesResponse struct {
	Model           string            `json:"model"`
	Voices          []string          `json:"voices"`
	EmotionTags     []string          `json:"emotion_tags"`
	SampleRate      int               `json:"sample_rate"`
	Channels        int               `json:"channels"`
	BitDepth        int               `json:"bit_depth"`
	ResponseFormats []string          `json:"response_formats"`
	MaxConcurrent   int               `json:"max_concurrent"`
	Defaults        capabilityDefault `json:"defaults"`
}

type capabilityDefault struct {
	Voice             string  `json:"voice"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type rootResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}
