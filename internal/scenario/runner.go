package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wondertwin-ai/gtagkit/internal/collector/store"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/lifecycle"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
)

// CheckResult is the outcome of one expectation.
type CheckResult struct {
	Name   string
	Passed bool
	Error  string
}

// Result is the outcome of a scenario run.
type Result struct {
	ScenarioName string
	Passed       bool
	State        lifecycle.State
	Checks       []CheckResult
	Duration     time.Duration
}

// Runner plays scenarios through a client and checks them against the
// collector twin at TwinURL.
type Runner struct {
	client  *gtag.Client
	twinURL string
	http    *http.Client
	// SettleTimeout bounds how long the client may take to become active.
	SettleTimeout time.Duration
}

// NewRunner creates a Runner. The client must not have been started.
func NewRunner(client *gtag.Client, twinURL string, httpClient *http.Client) *Runner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Runner{
		client:        client,
		twinURL:       strings.TrimRight(twinURL, "/"),
		http:          httpClient,
		SettleTimeout: 15 * time.Second,
	}
}

// Run resets the twin if asked, starts the client, plays the steps, flushes
// the client and evaluates the expectations. The client is closed afterwards.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	res := &Result{ScenarioName: s.Name, Passed: true}

	if s.Reset {
		if err := r.post(ctx, "/admin/reset"); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
	}

	r.client.Start(ctx)
	select {
	case <-r.client.Settled():
	case <-time.After(r.SettleTimeout):
		return nil, fmt.Errorf("client did not settle within %v", r.SettleTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res.State = r.client.State()

	for _, st := range s.Steps {
		r.apply(st)
	}
	if err := r.client.Close(ctx); err != nil {
		return nil, fmt.Errorf("flushing client: %w", err)
	}

	for _, e := range s.Expect {
		cr := r.check(ctx, e)
		res.Checks = append(res.Checks, cr)
		if !cr.Passed {
			res.Passed = false
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) apply(st Step) {
	c := r.client
	switch {
	case st.Navigate != "":
		path, query, _ := strings.Cut(st.Navigate, "?")
		c.Navigate(lifecycle.Snapshot{Path: path, Query: query})
	case st.Action != "":
		c.TrackWidgetInteraction(st.Widget, taxonomy.Action(st.Action), st.Extra)
	case st.View != "":
		c.TrackViewChange(st.Widget, taxonomy.ViewType(st.View), st.Extra)
	case st.DataPoint != "":
		c.TrackDataPointInteraction(st.Widget, st.DataPoint, st.Extra)
	case st.Export != "":
		c.TrackExport(st.Widget, taxonomy.ExportType(st.Export), st.Extra)
	case st.Consent != nil:
		c.SetConsent(*st.Consent)
	case len(st.UserProperties) > 0:
		c.SetUserProperties(st.UserProperties)
	}
}

func (r *Runner) check(ctx context.Context, e Expectation) CheckResult {
	cr := CheckResult{Name: e.Name}
	if cr.Name == "" {
		cr.Name = strings.TrimSpace(e.Kind + " " + e.Target)
	}

	hits, err := r.hits(ctx, e)
	if err != nil {
		cr.Error = err.Error()
		return cr
	}

	switch {
	case e.Count != nil && len(hits) != *e.Count:
		cr.Error = fmt.Sprintf("expected %d hits, got %d", *e.Count, len(hits))
		return cr
	case e.Count == nil && len(hits) == 0:
		cr.Error = "no matching hits"
		return cr
	}

	if len(e.Params) > 0 && !anyHasParams(hits, e.Params) {
		cr.Error = fmt.Sprintf("no matching hit carries params %v", e.Params)
		return cr
	}
	cr.Passed = true
	return cr
}

func anyHasParams(hits []store.Hit, want map[string]string) bool {
	for _, h := range hits {
		ok := true
		for k, v := range want {
			got, present := h.Params[k]
			if !present || fmt.Sprint(got) != v {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *Runner) hits(ctx context.Context, e Expectation) ([]store.Hit, error) {
	q := url.Values{}
	q.Set("kind", e.Kind)
	if e.Target != "" {
		q.Set("target", e.Target)
	}
	q.Set("tid", r.client.TrackingID())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.twinURL+"/admin/hits?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying hits: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying hits: status %d", resp.StatusCode)
	}

	var body struct {
		Hits []store.Hit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding hits: %w", err)
	}
	return body.Hits, nil
}

func (r *Runner) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.twinURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
