package jobs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// ErrInvalidPayload is returned when a job body cannot be decoded or lacks a
// project id.
var ErrInvalidPayload = errors.New("invalid job payload")

type pushEnvelope struct {
	Message *struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// ParseJob decodes a job body. It accepts the plain `{"projectId": "..."}`
// form and the Pub/Sub push envelope whose base64 data holds that form.
func ParseJob(body []byte) (monitor.Job, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return monitor.Job{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Message != nil {
		data, err := base64.StdEncoding.DecodeString(env.Message.Data)
		if err != nil {
			return monitor.Job{}, fmt.Errorf("%w: message data: %v", ErrInvalidPayload, err)
		}
		body = data
	}

	var job monitor.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return monitor.Job{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	job.ProjectID = strings.TrimSpace(job.ProjectID)
	if job.ProjectID == "" {
		return monitor.Job{}, fmt.Errorf("%w: missing projectId", ErrInvalidPayload)
	}
	return job, nil
}

// PushAttributes returns the message attributes of a Pub/Sub push envelope,
// or nil for a plain body.
func PushAttributes(body []byte) map[string]string {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Message == nil {
		return nil
	}
	return env.Message.Attributes
}
