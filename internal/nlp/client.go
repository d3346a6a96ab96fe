// Package nlp talks to the external NER model server that hosts the
// pretrained skill-extraction models.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	contentType      = "application/json"
	defaultUserAgent = "skillbridge/api"
)

// Client is an HTTP client for the NER model server.
type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	BaseURL    string
}

// New creates a model-server client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    logger,
		UserAgent: defaultUserAgent,
	}
}

type modelsResponse struct {
	AvailableModels []string `json:"available_models"`
}

type analyzeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type analyzeResponse struct {
	Entities []Entity `json:"entities"`
}

// ListModels returns the names of the NER models the server has loaded.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	if err := c.getJSON(ctx, "/models", nil, &resp); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return resp.AvailableModels, nil
}

// ExtractEntities runs a single model over the text. An empty model name lets
// the server pick its default.
func (c *Client) ExtractEntities(ctx context.Context, text, model string) ([]Entity, error) {
	var resp analyzeResponse
	if err := c.postJSON(ctx, "/analyze", analyzeRequest{Text: text, Model: model}, &resp); err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	return resp.Entities, nil
}

// ExtractDistinctEntities runs every available model over the text and returns
// the union of results, deduplicated on the text+label pair.
func (c *Client) ExtractDistinctEntities(ctx context.Context, text string) ([]Entity, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	var all []Entity
	for _, model := range models {
		entities, err := c.ExtractEntities(ctx, text, model)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		all = append(all, entities...)
	}

	c.logger.Debug("extracted entities from all models",
		zap.Int("models", len(models)),
		zap.Int("entities", len(all)),
	)

	return Distinct(all), nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	return c.do(req, target)
}

func (c *Client) postJSON(ctx context.Context, path string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target any) error {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("make request to model server", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}
