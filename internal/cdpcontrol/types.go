package cdpcontrol

import "fmt"

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// TabInfo describes a browser tab mapped from a CDP page target.
type TabInfo struct {
	TabID    int    `json:"tab_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// PageProbe reports what the injected interceptor sees inside a page.
type PageProbe struct {
	Installed    bool `json:"installed"`
	MediaTotal   int  `json:"media_total"`
	MediaWrapped int  `json:"media_wrapped"`
	GainContexts int  `json:"gain_contexts"`
	Volume       int  `json:"volume"`
}
