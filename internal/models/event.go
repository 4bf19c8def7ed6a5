package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StatusEvent is a progress or result notification for one task. Events for
// a task are causally ordered: zero or more in_progress entries followed by
// exactly one terminal entry.
type StatusEvent struct {
	TaskID uuid.UUID       `json:"task_id"`
	Status TaskStatus      `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Values encodes the event as a flat string-keyed map for a stream entry.
// Structured result payloads are JSON-encoded into a single field so that
// (de)serialization stays on one code path.
func (e StatusEvent) Values() map[string]any {
	v := map[string]any{"status": string(e.Status)}
	if e.Detail != "" {
		v["detail"] = e.Detail
	}
	if len(e.Result) > 0 {
		v["result"] = string(e.Result)
	}
	if e.Error != "" {
		v["error"] = e.Error
	}
	return v
}

// ParseStatusEvent decodes a stream entry back into a StatusEvent.
func ParseStatusEvent(taskID uuid.UUID, values map[string]any) (StatusEvent, error) {
	e := StatusEvent{TaskID: taskID}
	status, ok := values["status"].(string)
	if !ok || status == "" {
		return e, errors.New("status event missing status field")
	}
	e.Status = TaskStatus(status)
	if d, ok := values["detail"].(string); ok {
		e.Detail = d
	}
	if r, ok := values["result"].(string); ok && r != "" {
		if !json.Valid([]byte(r)) {
			return e, fmt.Errorf("status event result is not valid JSON: %q", r)
		}
		e.Result = json.RawMessage(r)
	}
	if errText, ok := values["error"].(string); ok {
		e.Error = errText
	}
	return e, nil
}

// IngestJob asks a worker to import one external post.
type IngestJob struct {
	TaskID uuid.UUID
	URL    string
	UserID uuid.UUID
}

// Values encodes the job for the ingest stream.
func (j IngestJob) Values() map[string]any {
	return map[string]any{
		"task_id": j.TaskID.String(),
		"url":     j.URL,
		"user_id": j.UserID.String(),
	}
}

// ParseIngestJob decodes an ingest stream entry.
func ParseIngestJob(fields map[string]string) (IngestJob, error) {
	var j IngestJob
	var err error
	if j.TaskID, err = uuid.Parse(fields["task_id"]); err != nil {
		return j, fmt.Errorf("ingest job task_id: %w", err)
	}
	if j.URL = fields["url"]; j.URL == "" {
		return j, errors.New("ingest job missing url")
	}
	if j.UserID, err = uuid.Parse(fields["user_id"]); err != nil {
		return j, fmt.Errorf("ingest job user_id: %w", err)
	}
	return j, nil
}

// GenerateJob asks a worker to run the generative model against the primary
// image of an already imported post.
type GenerateJob struct {
	TaskID uuid.UUID
	PostID string
	UserID uuid.UUID
	Style  string
}

// Values encodes the job for the generate stream.
func (j GenerateJob) Values() map[string]any {
	v := map[string]any{
		"task_id": j.TaskID.String(),
		"post_id": j.PostID,
		"user_id": j.UserID.String(),
	}
	if j.Style != "" {
		v["style"] = j.Style
	}
	return v
}

// ParseGenerateJob decodes a generate stream entry.
func ParseGenerateJob(fields map[string]string) (GenerateJob, error) {
	var j GenerateJob
	var err error
	if j.TaskID, err = uuid.Parse(fields["task_id"]); err != nil {
		return j, fmt.Errorf("generate job task_id: %w", err)
	}
	if j.PostID = fields["post_id"]; j.PostID == "" {
		return j, errors.New("generate job missing post_id")
	}
	if j.UserID, err = uuid.Parse(fields["user_id"]); err != nil {
		return j, fmt.Errorf("generate job user_id: %w", err)
	}
	j.Style = fields["style"]
	return j, nil
}
