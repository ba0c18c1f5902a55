package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"civic-hazard-backend/internal/config"
	"civic-hazard-backend/internal/models"
)

// DetectionOutcome is the result of a best-effort hazard detection pass.
// Applied is false when the detector was skipped, timed out, or found nothing;
// in that case HazardType is "other" and Confidence is 0.
type DetectionOutcome struct {
	Applied    bool              `json:"applied"`
	HazardType models.HazardType `json:"hazard_type"`
	Confidence float64           `json:"confidence"`
}

// prediction mirrors one entry of the detector's predictions array.
type prediction struct {
	Class         string    `json:"class"`
	Confidence    float64   `json:"confidence"`
	BBox          []float64 `json:"bbox"`
	OriginalClass string    `json:"original_class"`
}

type predictResponse struct {
	Predictions    []prediction `json:"predictions"`
	ProcessingTime float64      `json:"processing_time"`
	ModelVersion   string       `json:"model_version"`
}

// InferenceClient talks to the hazard-detection ML service.
type InferenceClient struct {
	baseURL   string
	apiKey    string
	threshold float64
	http      *http.Client
	batchHTTP *http.Client
}

// NewInferenceClient creates a new inference client
func NewInferenceClient(cfg config.MLConfig) *InferenceClient {
	return &InferenceClient{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		threshold: cfg.ConfidenceThreshold,
		http:      &http.Client{Timeout: cfg.Timeout},
		batchHTTP: &http.Client{Timeout: cfg.BatchTimeout},
	}
}

// Detect classifies a single image. Errors here are soft: the caller treats
// any failure as "no detection".
func (c *InferenceClient) Detect(ctx context.Context, filename string, image []byte) (*DetectionOutcome, error) {
	body, contentType, err := multipartImage("file", filename, image)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/predict?confidence_threshold=%g", c.baseURL, c.threshold)
	resp, err := c.do(ctx, c.http, url, body, contentType)
	if err != nil {
		return nil, err
	}
	return topOutcome(resp.Predictions), nil
}

// DetectBatch classifies several images in one call, returning one outcome
// per input in order.
func (c *InferenceClient) DetectBatch(ctx context.Context, filenames []string, images [][]byte) ([]*DetectionOutcome, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for i, img := range images {
		part, err := writer.CreateFormFile("files", filenames[i])
		if err != nil {
			return nil, fmt.Errorf("failed to build batch request: %w", err)
		}
		if _, err := part.Write(img); err != nil {
			return nil, fmt.Errorf("failed to build batch request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}

	url := fmt.Sprintf("%s/predict/batch?confidence_threshold=%g", c.baseURL, c.threshold)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.batchHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch detection request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch detection returned status %d", httpResp.StatusCode)
	}

	var batch struct {
		Results []predictResponse `json:"results"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}

	outcomes := make([]*DetectionOutcome, len(batch.Results))
	for i, r := range batch.Results {
		outcomes[i] = topOutcome(r.Predictions)
	}
	return outcomes, nil
}

func (c *InferenceClient) do(ctx context.Context, client *http.Client, url string, body io.Reader, contentType string) (*predictResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detection request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection returned status %d", httpResp.StatusCode)
	}

	var resp predictResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	return &resp, nil
}

func multipartImage(field, filename string, image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build detection request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to build detection request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build detection request: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// topOutcome picks the highest-confidence prediction. Class names outside the
// closed hazard set collapse to "other".
func topOutcome(preds []prediction) *DetectionOutcome {
	outcome := &DetectionOutcome{HazardType: models.HazardOther}
	for _, p := range preds {
		if p.Confidence <= outcome.Confidence {
			continue
		}
		hazard := models.HazardType(p.Class)
		if !hazard.Valid() {
			hazard = models.HazardOther
		}
		outcome.Applied = true
		outcome.HazardType = hazard
		outcome.Confidence = p.Confidence
	}
	return outcome
}
