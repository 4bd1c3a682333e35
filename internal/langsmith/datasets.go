package langsmith

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type Dataset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DataType     string `json:"data_type,omitempty"`
	ExampleCount *int   `json:"example_count,omitempty"`
	CreatedAt    *Time  `json:"created_at,omitempty"`
}

type Example struct {
	ID        string         `json:"id,omitempty"`
	DatasetID string         `json:"dataset_id"`
	Inputs    map[string]any `json:"inputs"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	CreatedAt *Time          `json:"created_at,omitempty"`
}

type createDatasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DataType    string `json:"data_type"`
}

// CreateDataset creates a key-value dataset. A name clash yields an error
// matching ErrConflict.
func (c *Client) CreateDataset(ctx context.Context, name, description string) (Dataset, error) {
	var ds Dataset
	req := createDatasetRequest{Name: name, Description: description, DataType: "kv"}
	if err := c.do(ctx, http.MethodPost, "/datasets", nil, req, &ds); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// ReadDatasetByName returns the dataset with exactly this name.
func (c *Client) ReadDatasetByName(ctx context.Context, name string) (Dataset, error) {
	var datasets []Dataset
	if err := c.do(ctx, http.MethodGet, "/datasets", url.Values{"name": {name}}, nil, &datasets); err != nil {
		return Dataset{}, err
	}
	for _, ds := range datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return Dataset{}, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
}

func (c *Client) ListDatasets(ctx context.Context, limit int) ([]Dataset, error) {
	if limit <= 0 {
		limit = maxPageSize
	}
	var datasets []Dataset
	query := url.Values{"limit": {fmt.Sprint(limit)}}
	if err := c.do(ctx, http.MethodGet, "/datasets", query, nil, &datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

func (c *Client) DeleteDataset(ctx context.Context, datasetID string) error {
	return c.do(ctx, http.MethodDelete, "/datasets/"+url.PathEscape(datasetID), nil, nil, nil)
}

// CreateExamples uploads examples in one bulk request.
func (c *Client) CreateExamples(ctx context.Context, datasetID string, inputs, outputs []map[string]any) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("create examples: %d inputs but %d outputs", len(inputs), len(outputs))
	}
	examples := make([]Example, 0, len(inputs))
	for i := range inputs {
		examples = append(examples, Example{DatasetID: datasetID, Inputs: inputs[i], Outputs: outputs[i]})
	}
	return c.do(ctx, http.MethodPost, "/examples/bulk", nil, examples, nil)
}

// ListExamples pages through a dataset's examples. A non-positive limit
// returns all of them.
func (c *Client) ListExamples(ctx context.Context, datasetID string, limit int) ([]Example, error) {
	var all []Example
	for offset := 0; ; offset += maxPageSize {
		pageSize := maxPageSize
		if limit > 0 {
			pageSize = min(maxPageSize, limit-len(all))
		}
		query := url.Values{
			"dataset": {datasetID},
			"limit":   {fmt.Sprint(pageSize)},
			"offset":  {fmt.Sprint(offset)},
		}
		var page []Example
		if err := c.do(ctx, http.MethodGet, "/examples", query, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize || (limit > 0 && len(all) >= limit) {
			return all, nil
		}
	}
}
