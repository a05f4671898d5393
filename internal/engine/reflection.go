package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Recommendation pairs a suggested view with the reflection to build on it
type Recommendation struct {
	ViewRequestBody       json.RawMessage `json:"viewRequestBody"`
	ReflectionRequestBody json.RawMessage `json:"reflectionRequestBody"`
}

type recommendationsRequest struct {
	JobIDs []string `json:"jobIds"`
}

type recommendationsResponse struct {
	Data []Recommendation `json:"data"`
}

// Recommendations asks the engine which reflections would accelerate the given jobs.
func (c *Client) Recommendations(ctx context.Context, jobIDs []string) ([]Recommendation, error) {
	var resp recommendationsResponse
	if _, err := c.do(ctx, "POST", "/reflection/recommendations", recommendationsRequest{JobIDs: jobIDs}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get reflection recommendations: %w", err)
	}
	return resp.Data, nil
}

// Reflection is the subset of the reflection API response the toolkit uses
type Reflection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	DatasetID string `json:"datasetId"`
	Enabled   bool   `json:"enabled"`
}

// CreateReflection creates a reflection from a recommendation body after
// pointing it at datasetID.
func (c *Client) CreateReflection(ctx context.Context, body json.RawMessage, datasetID string) (*Reflection, error) {
	fields := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("invalid reflection body: %w", err)
		}
	}
	fields["datasetId"] = datasetID

	var reflection Reflection
	if _, err := c.do(ctx, "POST", "/reflection", fields, &reflection); err != nil {
		return nil, fmt.Errorf("failed to create reflection: %w", err)
	}
	return &reflection, nil
}
