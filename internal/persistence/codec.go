package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
)

// jobRow is the column form of a jobs.Job shared by the SQL stores.
type jobRow struct {
	payloadJSON string
	resultJSON  string
}

func encodeJob(job *jobs.Job) (jobRow, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return jobRow{}, fmt.Errorf("encode job payload: %w", err)
	}
	row := jobRow{payloadJSON: string(payload)}
	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return jobRow{}, fmt.Errorf("encode job result: %w", err)
		}
		row.resultJSON = string(result)
	}
	return row, nil
}

func decodeJob(job *jobs.Job, row jobRow) error {
	if err := json.Unmarshal([]byte(row.payloadJSON), &job.Payload); err != nil {
		return fmt.Errorf("decode payload of job %s: %w", job.ID, err)
	}
	if row.resultJSON == "" {
		return nil
	}
	var result jobs.JobSummary
	if err := json.Unmarshal([]byte(row.resultJSON), &result); err != nil {
		return fmt.Errorf("decode result of job %s: %w", job.ID, err)
	}
	job.Result = &result
	return nil
}

func encodeCheckpoint(cp *checkpoint.Checkpoint) (string, error) {
	if cp == nil || cp.ScriptKey == "" {
		return "", fmt.Errorf("checkpoint script key is required")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return string(data), nil
}

func decodeCheckpoint(payload []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}
