package models

import (
	"strconv"
	"time"
)

// ResultColumns is the header of a benchmark results log.
var ResultColumns = []string{"label", "elapsed", "success", "bytes", "sentBytes", "jobId", "state", "error"}

// QueryResult is one row of a benchmark results log: a single query execution.
type QueryResult struct {
	Label     string
	Elapsed   time.Duration
	Success   bool
	Bytes     int64 // Response bytes received from the engine
	SentBytes int64 // Request bytes sent to the engine
	JobID     string
	State     string
	Error     string
}

// Record returns the row in ResultColumns order. Elapsed is written in milliseconds.
func (r QueryResult) Record() []string {
	return []string{
		r.Label,
		strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
		strconv.FormatBool(r.Success),
		strconv.FormatInt(r.Bytes, 10),
		strconv.FormatInt(r.SentBytes, 10),
		r.JobID,
		r.State,
		r.Error,
	}
}
