package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// JobState is the lifecycle state reported by the job API
type JobState string

const (
	JobStateNotSubmitted JobState = "NOT_SUBMITTED"
	JobStateStarting     JobState = "STARTING"
	JobStateRunning      JobState = "RUNNING"
	JobStateCompleted    JobState = "COMPLETED"
	JobStateCanceled     JobState = "CANCELED"
	JobStateFailed       JobState = "FAILED"
	JobStateInvalid      JobState = "INVALID"
	JobStateInvalidState JobState = "INVALID_STATE"
)

// Terminal reports whether the state is final. Every other state, including
// ones this client does not know about, means the job is still running.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCanceled, JobStateFailed, JobStateInvalid, JobStateInvalidState:
		return true
	}
	return false
}

// JobStatus is the job API response
type JobStatus struct {
	JobState           JobState `json:"jobState"`
	RowCount           int64    `json:"rowCount"`
	ErrorMessage       string   `json:"errorMessage,omitempty"`
	CancellationReason string   `json:"cancellationReason,omitempty"`
	QueryType          string   `json:"queryType,omitempty"`
	StartedAt          string   `json:"startedAt,omitempty"`
	EndedAt            string   `json:"endedAt,omitempty"`
}

// JobResult describes one executed statement
type JobResult struct {
	JobID         string
	State         JobState
	RowCount      int64
	ErrorMessage  string
	Elapsed       time.Duration
	BytesSent     int64
	BytesReceived int64
}

// Succeeded reports whether the job completed.
func (r *JobResult) Succeeded() bool {
	return r != nil && r.State == JobStateCompleted
}

type sqlRequest struct {
	SQL     string   `json:"sql"`
	Context []string `json:"context,omitempty"`
}

type sqlResponse struct {
	ID string `json:"id"`
}

// SubmitSQL submits a statement and returns the job ID. sqlContext is the
// optional default namespace the statement runs in.
func (c *Client) SubmitSQL(ctx context.Context, sql string, sqlContext []string) (string, error) {
	id, _, err := c.submit(ctx, sql, sqlContext)
	return id, err
}

func (c *Client) submit(ctx context.Context, sql string, sqlContext []string) (string, traffic, error) {
	var resp sqlResponse
	t, err := c.do(ctx, "POST", "/sql", sqlRequest{SQL: sql, Context: sqlContext}, &resp)
	if err != nil {
		return "", t, fmt.Errorf("failed to submit SQL: %w", err)
	}
	if resp.ID == "" {
		return "", t, fmt.Errorf("failed to submit SQL: response carried no job id")
	}

	c.logger.Debug().Str("job_id", resp.ID).Msg("Submitted SQL")
	return resp.ID, t, nil
}

// JobStatus fetches the current status of a job
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	status, _, err := c.jobStatus(ctx, jobID)
	return status, err
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (*JobStatus, traffic, error) {
	var status JobStatus
	t, err := c.do(ctx, "GET", "/job/"+url.PathEscape(jobID), nil, &status)
	if err != nil {
		return nil, t, err
	}
	return &status, t, nil
}

// WaitForJob polls the job every poll interval until it reaches a terminal
// state. A job that ends in any state other than COMPLETED returns the final
// status together with a *JobFailedError.
func (c *Client) WaitForJob(ctx context.Context, jobID string) (*JobStatus, error) {
	status, _, err := c.waitForJob(ctx, jobID)
	return status, err
}

func (c *Client) waitForJob(ctx context.Context, jobID string) (*JobStatus, traffic, error) {
	var total traffic
	start := time.Now()
	notFound := 0
	var lastState JobState

	for {
		status, t, err := c.jobStatus(ctx, jobID)
		total.add(t)
		if err != nil {
			// A freshly submitted job is not always visible yet
			if IsNotFound(err) && notFound < c.notFoundRetries {
				notFound++
				c.logger.Debug().
					Str("job_id", jobID).
					Int("attempt", notFound).
					Msg("Job not found yet, retrying")
				if err := c.sleep(ctx); err != nil {
					return nil, total, err
				}
				continue
			}
			return nil, total, fmt.Errorf("failed to get status of job %s: %w", jobID, err)
		}

		if status.JobState != lastState {
			c.logger.Debug().
				Str("job_id", jobID).
				Str("state", string(status.JobState)).
				Msg("Job state")
			lastState = status.JobState
		}

		if status.JobState.Terminal() {
			if status.JobState != JobStateCompleted {
				msg := status.ErrorMessage
				if msg == "" {
					msg = status.CancellationReason
				}
				return status, total, &JobFailedError{JobID: jobID, State: status.JobState, Message: msg}
			}
			return status, total, nil
		}

		if c.maxWait > 0 && time.Since(start) >= c.maxWait {
			return status, total, fmt.Errorf("%w: job %s still %s after %s", ErrWaitTimeout, jobID, status.JobState, c.maxWait)
		}

		if err := c.sleep(ctx); err != nil {
			return status, total, err
		}
	}
}

func (c *Client) sleep(ctx context.Context) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute submits a statement and waits for it to finish. The returned result
// is non-nil whenever the statement was submitted, even if it failed.
func (c *Client) Execute(ctx context.Context, sql string, sqlContext []string) (*JobResult, error) {
	start := time.Now()

	jobID, t, err := c.submit(ctx, sql, sqlContext)
	if err != nil {
		return nil, err
	}

	status, waitTraffic, err := c.waitForJob(ctx, jobID)
	t.add(waitTraffic)

	result := &JobResult{
		JobID:         jobID,
		Elapsed:       time.Since(start),
		BytesSent:     t.sent,
		BytesReceived: t.received,
	}
	if status != nil {
		result.State = status.JobState
		result.RowCount = status.RowCount
		result.ErrorMessage = status.ErrorMessage
	}
	if err != nil {
		var failed *JobFailedError
		if !errors.As(err, &failed) && result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
		return result, err
	}
	return result, nil
}

// JobResultsPage is one page of job output rows
type JobResultsPage struct {
	RowCount int64            `json:"rowCount"`
	Schema   []ResultColumn   `json:"schema"`
	Rows     []map[string]any `json:"rows"`
}

// ResultColumn describes one column of a job result
type ResultColumn struct {
	Name string `json:"name"`
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
}

// JobResults fetches up to limit rows of a completed job starting at offset.
func (c *Client) JobResults(ctx context.Context, jobID string, offset, limit int) (*JobResultsPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var page JobResultsPage
	if _, err := c.do(ctx, "GET", "/job/"+url.PathEscape(jobID)+"/results?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch results of job %s: %w", jobID, err)
	}
	return &page, nil
}
