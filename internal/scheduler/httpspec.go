package scheduler

import "encoding/json"

// HTTPJobSpec is the payload shape for the built-in "scheduler.http" outbox
// topic: it carries everything the teacher's original Job row did (URL,
// method, headers, body, timeout), now as an outbox message payload
// instead of a first-class table column.
type HTTPJobSpec struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

func DecodeHTTPJobSpec(payload []byte) (HTTPJobSpec, error) {
	var spec HTTPJobSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return HTTPJobSpec{}, err
	}
	if spec.TimeoutSeconds <= 0 {
		spec.TimeoutSeconds = 30
	}
	return spec, nil
}

func EncodeHTTPJobSpec(spec HTTPJobSpec) ([]byte, error) {
	return json.Marshal(spec)
}
