package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/idtoken"

	"github.com/octobees/venue-pipeline/internal/entity"
)

// WorkerClient posts JSON payloads to the scraping worker.
type WorkerClient struct {
	client  *http.Client
	baseURL string
}

// NewWorkerClient builds a worker client, using an ID token client when
// client is nil and one can be created.
func NewWorkerClient(client *http.Client, workerBaseURL string) (*WorkerClient, error) {
	if workerBaseURL == "" {
		return nil, errors.New("worker base url must not be empty")
	}
	workerBaseURL = strings.TrimRight(workerBaseURL, "/")
	if client == nil {
		idc, err := idtoken.NewClient(context.Background(), workerBaseURL)
		if err != nil {
			client = &http.Client{Timeout: 60 * time.Second}
		} else {
			client = idc
		}
	}
	return &WorkerClient{client: client, baseURL: workerBaseURL}, nil
}

// PostJSON posts payload to path and decodes the response "data" object
// into out.
func (c *WorkerClient) PostJSON(ctx context.Context, path string, payload any, requestID string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("worker error: %s", extractWorkerError(resp.Body))
	}

	var workerResp struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&workerResp); err != nil && err != io.EOF {
		return fmt.Errorf("could not decode worker response: %w", err)
	}
	if workerResp.Error != "" {
		return fmt.Errorf("worker error: %s", workerResp.Error)
	}
	if out == nil || len(workerResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(workerResp.Data, out); err != nil {
		return fmt.Errorf("could not decode worker data: %w", err)
	}
	return nil
}

func extractWorkerError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "worker returned an error"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}

// WorkerSource asks the browser automation worker for scraped records.
type WorkerSource struct {
	client    *WorkerClient
	requestID func(context.Context) string
}

var _ Source = (*WorkerSource)(nil)

// NewWorkerSource wraps client. requestID may be nil.
func NewWorkerSource(client *WorkerClient, requestID func(context.Context) string) *WorkerSource {
	if requestID == nil {
		requestID = func(context.Context) string { return "" }
	}
	return &WorkerSource{client: client, requestID: requestID}
}

type workerScrapeRequest struct {
	Query        string   `json:"query"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	RadiusMeters float64  `json:"radius_meters,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

func (s *WorkerSource) Scrape(ctx context.Context, opts Options) (Result, error) {
	res := Result{Source: "worker"}
	req := workerScrapeRequest{Query: opts.Query, RadiusMeters: opts.RadiusMeters, Limit: opts.Limit}
	if opts.Near != nil {
		lat, lng := opts.Near.Lat, opts.Near.Lng
		req.Lat, req.Lng = &lat, &lng
	}

	var data struct {
		Records []entity.ScrapedRecord `json:"records"`
	}
	if err := s.client.PostJSON(ctx, "/scrape/places", req, s.requestID(ctx), &data); err != nil {
		return res, err
	}
	for _, record := range data.Records {
		if strings.TrimSpace(record.Name) == "" {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, entity.NewScrapedRecord(record))
	}
	res.Records = limit(res.Records, opts.Limit)
	return res, nil
}

func (s *WorkerSource) ScrapeDetail(ctx context.Context, url string) (*entity.RawRecord, error) {
	var data struct {
		Record *entity.ScrapedRecord `json:"record"`
	}
	if err := s.client.PostJSON(ctx, "/scrape/detail", map[string]string{"url": url}, s.requestID(ctx), &data); err != nil {
		return nil, err
	}
	if data.Record == nil {
		return nil, nil
	}
	record := entity.NewScrapedRecord(*data.Record)
	return &record, nil
}
