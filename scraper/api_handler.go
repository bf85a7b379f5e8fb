package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rentwatch/config"
	"rentwatch/httputil"
	"rentwatch/models"
)

// APIHandler reads sites that publish their listings as a JSON array.
type APIHandler struct {
	cfg     *config.SiteConfig
	clients *httputil.Clients
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewAPIHandler(cfg *config.SiteConfig, clients *httputil.Clients, log *logrus.Entry) *APIHandler {
	return &APIHandler{
		cfg:     cfg,
		clients: clients,
		limiter: newLimiter(cfg.RateLimitMS),
		log:     log.WithField("handler", "json"),
	}
}

func (h *APIHandler) ID() string {
	return h.cfg.ID
}

// Crawl fetches every start URL. JSON rows carry all their data, so known
// URLs are returned as well.
func (h *APIHandler) Crawl(ctx context.Context, _ map[string]struct{}) ([]models.RawRecord, error) {
	var all []models.RawRecord
	for _, u := range h.cfg.StartURLs {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rows, err := h.fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u, err)
		}
		h.log.Infof("%s: %d rows", u, len(rows))
		all = append(all, rows...)
	}
	return all, nil
}

func (h *APIHandler) fetch(ctx context.Context, url string) ([]models.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	h.clients.SetBrowserHeaders(req)

	resp, err := h.clients.Scraping.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return parseRows(payload)
}

// parseRows accepts a top-level array of objects, or an object whose first
// array-valued key (in key order) holds them.
func parseRows(payload any) ([]models.RawRecord, error) {
	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range sortedKeys(v) {
			if arr, ok := v[k].([]any); ok {
				items = arr
				break
			}
		}
		if items == nil {
			return nil, fmt.Errorf("no listing array in response")
		}
	default:
		return nil, fmt.Errorf("unexpected response type %T", payload)
	}

	rows := make([]models.RawRecord, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := make(models.RawRecord, len(obj))
		for k, v := range obj {
			row[k] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
