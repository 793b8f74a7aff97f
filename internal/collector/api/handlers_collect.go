package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/wondertwin-ai/gtagkit/internal/collector/store"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

const maxCollectBody = 1 << 20

const scriptBody = `// gtagkit collector twin
(function(w){
  w.dataLayer = w.dataLayer || [];
  w.gtag = w.gtag || function(){ w.dataLayer.push(arguments); };
  w.__gtagTwin = { id: %q };
})(window);
`

// ServeScript handles GET /gtag/js?id=.
func (h *Handler) ServeScript(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		twincore.Error(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	h.store.RecordScriptLoad(id, r.UserAgent())

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=900")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, scriptBody, id)
}

// Collect handles POST /g/collect. The body is either one hit or a batch
// {"hits": [...]}. A batch is accepted or rejected as a whole.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCollectBody+1))
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if len(body) > maxCollectBody {
		twincore.Error(w, http.StatusRequestEntityTooLarge, "body exceeds 1MiB")
		return
	}

	hits, err := decodeHits(body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, hit := range hits {
		if err := validateHit(hit); err != nil {
			twincore.Error(w, http.StatusBadRequest, fmt.Sprintf("hit %d: %v", i, err))
			return
		}
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		rec := h.store.RecordHit(store.Hit{
			TrackingID: hit.TrackingID,
			ClientID:   hit.ClientID,
			Kind:       string(hit.Kind),
			Target:     hit.Target,
			Params:     hit.Params,
			Timestamp:  hit.Timestamp,
		})
		ids = append(ids, rec.ID)
	}
	twincore.JSON(w, http.StatusOK, map[string]any{"accepted": len(ids), "ids": ids})
}

func decodeHits(body []byte) ([]transport.Hit, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, ok := probe["hits"]; ok {
		var batch transport.HitBatch
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("invalid batch: %w", err)
		}
		if len(batch.Hits) == 0 {
			return nil, fmt.Errorf("batch has no hits")
		}
		return batch.Hits, nil
	}

	var hit transport.Hit
	if err := json.Unmarshal(trimmed, &hit); err != nil {
		return nil, fmt.Errorf("invalid hit: %w", err)
	}
	return []transport.Hit{hit}, nil
}

func validateHit(hit transport.Hit) error {
	switch {
	case hit.TrackingID == "":
		return fmt.Errorf("tid is required")
	case hit.Kind == "":
		return fmt.Errorf("kind is required")
	}
	switch hit.Kind {
	case transport.KindConfig, transport.KindEvent, transport.KindConsent, transport.KindSet, transport.KindJS:
		return nil
	}
	return fmt.Errorf("unknown kind %q", hit.Kind)
}

// AdminListHits handles GET /admin/hits with optional kind, target, tid, cid
// filters and cursor/limit paging.
func (h *Handler) AdminListHits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.HitFilter{
		Kind:       q.Get("kind"),
		Target:     q.Get("target"),
		TrackingID: q.Get("tid"),
		ClientID:   q.Get("cid"),
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			twincore.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	hits := h.store.QueryHits(filter)
	if cursor := q.Get("cursor"); cursor != "" {
		for i, hit := range hits {
			if hit.ID == cursor {
				hits = hits[i+1:]
				break
			}
		}
	}
	hasMore := false
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
		hasMore = true
	}
	if hits == nil {
		hits = []store.Hit{}
	}

	twincore.JSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"count":    len(hits),
		"has_more": hasMore,
	})
}

// AdminSummary handles GET /admin/summary?tid=.
func (h *Handler) AdminSummary(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.store.Summarize(r.URL.Query().Get("tid")))
}
