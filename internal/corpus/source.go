package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pavelanni/kuralquiz/internal/model"
)

const (
	// DefaultDataset is the Thirukkural dataset published on the Hugging Face hub.
	DefaultDataset = "hf://Selvakumarduraipandian/Thirukural"

	hfScheme      = "hf://"
	hfRowsBaseURL = "https://datasets-server.huggingface.co"
	hfPageSize    = 100 // datasets-server maximum
	maxBodyBytes  = 64 << 20
)

// Open returns a Store for location: a local JSON file, an http(s) URL
// serving the same JSON, or hf://<owner>/<dataset>.
func Open(location string, client *http.Client) (*Store, error) {
	src, err := NewSource(location, client)
	if err != nil {
		return nil, err
	}
	return New(src), nil
}

// NewSource picks the Source implementation for location.
func NewSource(location string, client *http.Client) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty corpus location")
	}
	if client == nil {
		client = http.DefaultClient
	}
	switch {
	case strings.HasPrefix(location, hfScheme):
		dataset := strings.Trim(strings.TrimPrefix(location, hfScheme), "/")
		if strings.Count(dataset, "/") != 1 {
			return nil, fmt.Errorf("invalid dataset %q: want hf://<owner>/<name>", location)
		}
		return &HuggingFaceSource{
			BaseURL: hfRowsBaseURL,
			Dataset: dataset,
			Config:  "default",
			Split:   "train",
			Client:  client,
		}, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return &HTTPSource{URL: location, Client: client}, nil
	default:
		return FileSource(location), nil
	}
}

// FileSource reads records from a JSON file on disk.
type FileSource string

func (f FileSource) String() string { return string(f) }

// Fetch reads and decodes the file.
func (f FileSource) Fetch(_ context.Context) ([]model.Record, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", string(f), err)
	}
	return decodeRecords(data)
}

// HTTPSource downloads a JSON document of records.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (h *HTTPSource) String() string { return h.URL }

// Fetch downloads and decodes the document.
func (h *HTTPSource) Fetch(ctx context.Context) ([]model.Record, error) {
	data, err := getJSON(ctx, h.Client, h.URL)
	if err != nil {
		return nil, err
	}
	return decodeRecords(data)
}

// HuggingFaceSource pages through the datasets-server rows API.
type HuggingFaceSource struct {
	BaseURL string
	Dataset string
	Config  string
	Split   string
	Client  *http.Client
}

func (h *HuggingFaceSource) String() string { return hfScheme + h.Dataset }

type hfRowsPage struct {
	Rows []struct {
		Row model.Record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Fetch downloads every row of the configured split.
func (h *HuggingFaceSource) Fetch(ctx context.Context) ([]model.Record, error) {
	var records []model.Record
	for offset := 0; ; {
		q := url.Values{}
		q.Set("dataset", h.Dataset)
		q.Set("config", h.Config)
		q.Set("split", h.Split)
		q.Set("offset", strconv.Itoa(offset))
		q.Set("length", strconv.Itoa(hfPageSize))
		data, err := getJSON(ctx, h.Client, strings.TrimRight(h.BaseURL, "/")+"/rows?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("rows at offset %d: %w", offset, err)
		}

		var page hfRowsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("parse rows at offset %d: %w", offset, err)
		}
		for _, r := range page.Rows {
			records = append(records, r.Row)
		}

		offset += len(page.Rows)
		if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
			break
		}
	}
	return records, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
	}
	return body, nil
}

// decodeRecords accepts either a JSON array of records or a datasets-server
// rows document.
func decodeRecords(data []byte) ([]model.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []model.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse records: %w", err)
		}
		return records, nil
	}

	var page hfRowsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("parse rows: %w", err)
	}
	records := make([]model.Record, 0, len(page.Rows))
	for _, r := range page.Rows {
		records = append(records, r.Row)
	}
	return records, nil
}

// WriteFile stores records as an indented JSON array that FileSource can read back.
func WriteFile(path string, records []model.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
