package meddb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/pkg/circuitbreaker"
)

// DefaultRxNormURL is the public RxNorm REST endpoint.
const DefaultRxNormURL = "https://rxnav.nlm.nih.gov/REST"

// rxnormTimeout bounds every remote terminology call.
const rxnormTimeout = 3 * time.Second

// RxNormClient resolves approximate drug name matches against the RxNorm
// terminology service. Calls run through a circuit breaker so a degraded
// upstream degrades lookups to the local fuzzy fallback instead of stalling
// every scan.
type RxNormClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRxNormClient creates a remote terminology client.
func NewRxNormClient(baseURL string, logger *zap.Logger) (*RxNormClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultRxNormURL
	}

	cb, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnorm"), logger)
	if err != nil {
		return nil, fmt.Errorf("create rxnorm breaker: %w", err)
	}

	return &RxNormClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: rxnormTimeout},
		breaker: cb,
		logger:  logger,
	}, nil
}

// ApproximateMatch implements Resolver. An empty name with nil error means no
// candidate was found.
func (c *RxNormClient) ApproximateMatch(ctx context.Context, name string) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.approximateTerm(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

type approximateTermResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
			Name  string `json:"name"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

func (c *RxNormClient) approximateTerm(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rxnormTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/approximateTerm.json?term=%s&maxEntries=1",
		c.baseURL, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build rxnorm request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rxnorm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rxnorm status %d", resp.StatusCode)
	}

	var parsed approximateTermResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode rxnorm response: %w", err)
	}

	candidates := parsed.ApproximateGroup.Candidate
	if len(candidates) == 0 || candidates[0].Name == "" {
		return "", nil
	}

	c.logger.Debug("rxnorm approximate match",
		zap.String("term", name),
		zap.String("name", candidates[0].Name),
		zap.String("rxcui", candidates[0].RxCUI))

	return candidates[0].Name, nil
}
