package pipeline

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/model"
	"fac-data-pipeline/pkg/utils"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const (
	apiKeyEnv = "SAM_API_KEY"
	// public, rate-limited placeholder credential
	defaultAPIKey = "DEMO_KEY"
)

// Fetcher turns one source descriptor into a restartable sequence of
// bounded-size record batches.
type Fetcher struct {
	client  *retryablehttp.Client
	apiKey  string
	joinKey string
}

// NewFetcher builds a fetcher from the run configuration. With api_retry_max
// set to zero every transport failure is fatal on first occurrence; a
// positive value enables bounded retry with backoff per page, which keeps
// at-least-once fetch semantics (a page is re-requested, never skipped).
func NewFetcher(cfg *config.Config) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Settings.APIRetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = time.Duration(cfg.Settings.APITimeoutSeconds) * time.Second

	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		apiKey = defaultAPIKey
	}
	return &Fetcher{client: client, apiKey: apiKey, joinKey: cfg.Settings.PrimaryJoinKey}
}

type apiPage struct {
	Results []model.GenericRecord `json:"results"`
}

// Stream returns the lazy batch sequence for one source. The offset advances
// by the page size after each successful fetch; the sequence ends on an
// empty page or a short page. Join-key values are normalized to text before
// a batch is yielded, so downstream stages never see the raw typing.
func (f *Fetcher) Stream(ctx context.Context, src config.Source) iter.Seq2[model.Batch, error] {
	return func(yield func(model.Batch, error) bool) {
		offset := src.APIParams.From
		size := src.APIParams.Size
		for {
			batch, err := f.fetchPage(ctx, src, offset, size)
			if err != nil {
				yield(nil, model.FetchError(src.Name, offset, err))
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, rec := range batch {
				if v, ok := rec[f.joinKey]; ok {
					rec[f.joinKey] = utils.NormalizeKey(v)
				}
			}
			if !yield(batch, nil) {
				return
			}
			if len(batch) < size {
				// short page signals exhaustion
				return
			}
			offset += size
		}
	}
}

func (f *Fetcher) fetchPage(ctx context.Context, src config.Source, offset, size int) (model.Batch, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", f.apiKey)

	q := url.Values{}
	for k, v := range src.APIParams.Extra {
		q.Set(k, v)
	}
	q.Set("from", strconv.Itoa(offset))
	q.Set("size", strconv.Itoa(size))
	req.URL.RawQuery = q.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("unexpected status %s", resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var page apiPage
	if err := dec.Decode(&page); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return model.Batch(page.Results), nil
}
