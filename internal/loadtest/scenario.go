package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/check"
)

// RequestSpec defines a single HTTP request of a scenario.
type RequestSpec struct {
	// Name for this request (used in metrics)
	Name string

	// HTTP method (default GET)
	Method string

	URL     string
	Headers map[string]string
	Body    string

	// Checks evaluated against the response
	Checks []check.Check

	// Think time after this request
	ThinkTime time.Duration
}

// HTTPScenario is a declarative iteration: each iteration sends every
// request in order, evaluating its checks and honouring think time.
type HTTPScenario struct {
	Requests []RequestSpec
}

// Validate reports the first malformed request.
func (s *HTTPScenario) Validate() error {
	if len(s.Requests) == 0 {
		return errors.New("scenario has no requests")
	}
	for i, r := range s.Requests {
		if r.URL == "" {
			return fmt.Errorf("requests[%d]: url is required", i)
		}
		if _, err := http.NewRequest(r.method(), r.URL, nil); err != nil {
			return fmt.Errorf("requests[%d]: %w", i, err)
		}
	}
	return nil
}

// Iteration returns the scenario as an IterationFunc.
//
// HTTP failures do not fail the iteration; they are visible through the
// request and check series. Only a request that cannot be built does.
func (s *HTTPScenario) Iteration() IterationFunc {
	requests := append([]RequestSpec(nil), s.Requests...)

	return func(ctx context.Context, vu *VU) error {
		if vu.HTTP == nil {
			return errors.New("scenario requires an HTTP client")
		}

		for _, r := range requests {
			var body *strings.Reader
			if r.Body != "" {
				body = strings.NewReader(r.Body)
			}

			req, err := r.build(ctx, body)
			if err != nil {
				return err
			}

			resp, err := vu.HTTP.Do(req, r.Name)
			if len(r.Checks) > 0 {
				vu.Check(resp, r.Checks...)
			}
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}

			if err := vu.Sleep(ctx, r.ThinkTime); err != nil {
				return err
			}
		}
		return nil
	}
}

func (r *RequestSpec) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r *RequestSpec) build(ctx context.Context, body *strings.Reader) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method(), r.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method(), r.URL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request %q: %w", r.Name, err)
	}

	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
