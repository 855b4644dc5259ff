package embedding

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/timmy/eventgallery/internal/domain"
)

const (
	defaultJinaBaseURL = "https://api.jina.ai/v1"
	defaultJinaModel   = "jina-clip-v2"
)

// errUpstream marks failures that should count against the circuit breaker.
var errUpstream = errors.New("embedding upstream failure")

// JinaConfig configures JinaExtractor.
type JinaConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Dimensions  int
	Timeout     time.Duration
	MinContrast float64
	MaxPixels   int64
}

// JinaExtractor calls the Jina embeddings API with CLIP image inputs. Images are
// decoded and checked locally first so that format and subject failures are
// classified the same way as with LocalExtractor.
type JinaExtractor struct {
	client      *resty.Client
	breaker     *gobreaker.CircuitBreaker
	endpoint    string
	model       string
	dimensions  int
	minContrast float64
	maxPixels   int64
}

// NewJinaExtractor creates a JinaExtractor. The API key is required.
func NewJinaExtractor(cfg *JinaConfig) (*JinaExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("jina extractor: api key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("jina extractor: dimensions must be positive")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultJinaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jina-embeddings",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, errUpstream)
		},
	})

	return &JinaExtractor{
		client:      client,
		breaker:     breaker,
		endpoint:    baseURL + "/embeddings",
		model:       model,
		dimensions:  cfg.Dimensions,
		minContrast: cfg.MinContrast,
		maxPixels:   cfg.MaxPixels,
	}, nil
}

// Dimensions returns the configured output dimension.
func (e *JinaExtractor) Dimensions() int {
	return e.dimensions
}

// Model returns the remote model name.
func (e *JinaExtractor) Model() string {
	return e.model
}

type jinaImageInput struct {
	Image string `json:"image"`
}

type jinaRequest struct {
	Model         string           `json:"model"`
	Dimensions    int              `json:"dimensions,omitempty"`
	Normalized    bool             `json:"normalized"`
	EmbeddingType string           `json:"embedding_type,omitempty"`
	Input         []jinaImageInput `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Extract validates the image locally and requests its embedding.
func (e *JinaExtractor) Extract(ctx context.Context, data []byte) ([]float32, error) {
	const op = "embedding.JinaExtractor.Extract"

	dec, err := decodeImage(ctx, data, e.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := checkSubject(dec.gray, e.minContrast); err != nil {
		return nil, err
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.call(ctx, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.E(domain.KindUnavailable, op, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var classified *domain.Error
		if errors.As(err, &classified) {
			return nil, err
		}
		return nil, domain.E(domain.KindUnavailable, op, err)
	}

	vector := out.([]float32)
	if len(vector) != e.dimensions {
		return nil, domain.Errorf(domain.KindDimensionMismatch, op,
			"provider returned %d dimensions, expected %d", len(vector), e.dimensions)
	}
	return vector, nil
}

func (e *JinaExtractor) call(ctx context.Context, data []byte) ([]float32, error) {
	req := jinaRequest{
		Model:         e.model,
		Dimensions:    e.dimensions,
		Normalized:    true,
		EmbeddingType: "float",
		Input:         []jinaImageInput{{Image: base64.StdEncoding.EncodeToString(data)}},
	}

	var resp jinaResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(e.endpoint)
	if err != nil {
		// A caller that gave up says nothing about the upstream's health.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to call Jina API: %w: %v", errUpstream, err)
	}

	status := httpResp.StatusCode()
	if status != http.StatusOK {
		detail := resp.Detail
		if detail == "" {
			detail = fmt.Sprintf("status %d", status)
		}
		if status >= 500 || status == http.StatusTooManyRequests {
			return nil, fmt.Errorf("Jina API error: %w: %s", errUpstream, detail)
		}
		// The API could not process the image itself.
		return nil, domain.Errorf(domain.KindUnsupportedFormat, "embedding.jina", "Jina API rejected image: %s", detail)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", errUpstream)
	}
	return resp.Data[0].Embedding, nil
}
