package scraper

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"rentwatch/config"
	"rentwatch/httputil"
	"rentwatch/identity"
	"rentwatch/models"
)

// HTMLHandler crawls server-rendered sites: result pages link to detail
// pages, and a next link leads to the following result page.
type HTMLHandler struct {
	cfg       *config.SiteConfig
	clients   *httputil.Clients
	rules     []fieldRule
	urlColumn string
	log       *logrus.Entry
}

func NewHTMLHandler(cfg *config.SiteConfig, clients *httputil.Clients, urlColumn string, log *logrus.Entry) (*HTMLHandler, error) {
	if cfg.ListSelector == "" {
		return nil, fmt.Errorf("site %s: list_selector is required for html crawling", cfg.ID)
	}
	rules, err := compileRules(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.ID, err)
	}
	return &HTMLHandler{
		cfg:       cfg,
		clients:   clients,
		rules:     rules,
		urlColumn: urlColumn,
		log:       log.WithField("handler", "html"),
	}, nil
}

func (h *HTMLHandler) ID() string {
	return h.cfg.ID
}

func (h *HTMLHandler) newCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{colly.UserAgent(h.clients.UserAgent)}
	if len(h.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(h.cfg.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.SetClient(h.clients.Scraping)
	if h.cfg.RateLimitMS > 0 {
		c.Limit(&colly.LimitRule{
			DomainGlob: "*",
			Delay:      time.Duration(h.cfg.RateLimitMS) * time.Millisecond,
		})
	}
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	return c
}

func (h *HTMLHandler) Crawl(ctx context.Context, known map[string]struct{}) ([]models.RawRecord, error) {
	list := h.newCollector(ctx)
	detail := list.Clone()
	detail.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	var (
		records  []models.RawRecord
		listErr  error
		pages    int
		skipped  int
		failures int
	)

	list.OnResponse(func(r *colly.Response) {
		pages++
	})

	list.OnError(func(r *colly.Response, err error) {
		if listErr == nil {
			listErr = fmt.Errorf("result page %s: %w", r.Request.URL, err)
		}
	})

	list.OnHTML(h.cfg.ListSelector, func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if h.cfg.SkipKnown && isKnown(known, identity.RecordKey(link)) {
			skipped++
			return
		}
		if err := detail.Visit(link); err != nil && err != colly.ErrAlreadyVisited {
			h.log.Debugf("skip %s: %v", link, err)
		}
	})

	if h.cfg.NextSelector != "" {
		list.OnHTML(h.cfg.NextSelector, func(e *colly.HTMLElement) {
			if h.cfg.MaxPages > 0 && pages >= h.cfg.MaxPages {
				return
			}
			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next != "" {
				e.Request.Visit(next)
			}
		})
	}

	detail.OnResponse(func(r *colly.Response) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			failures++
			h.log.Warnf("parse %s: %v", r.Request.URL, err)
			return
		}
		rec := extractFields(doc.Selection, h.rules, r.Request.URL)
		rec[h.urlColumn] = r.Request.URL.String()
		records = append(records, rec)
	})

	detail.OnError(func(r *colly.Response, err error) {
		failures++
		h.log.Warnf("detail %s: %v", r.Request.URL, err)
	})

	for _, u := range h.cfg.StartURLs {
		if err := list.Visit(u); err != nil && err != colly.ErrAlreadyVisited {
			return nil, fmt.Errorf("visit %s: %w", u, err)
		}
	}
	list.Wait()
	detail.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if listErr != nil {
		return nil, listErr
	}

	h.log.WithFields(logrus.Fields{
		"pages":           pages,
		"records":         len(records),
		"skipped_known":   skipped,
		"detail_failures": failures,
	}).Info("crawl finished")
	return records, nil
}
