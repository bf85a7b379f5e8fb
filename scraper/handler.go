package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/httputil"
	"rentwatch/models"
	"rentwatch/services"
)

// Handler crawls one site and returns its rows in page order. known holds
// the URLs already in the store; handlers with skip_known set do not fetch
// detail pages for them.
type Handler interface {
	ID() string
	Crawl(ctx context.Context, known map[string]struct{}) ([]models.RawRecord, error)
}

// Deps are the shared resources handed to every handler.
type Deps struct {
	Clients  *httputil.Clients
	Launcher browser.Launcher
	Log      *logrus.Entry
}

func NewHandler(site *config.SiteConfig, deps Deps) (Handler, error) {
	log := deps.Log.WithField("site", site.ID)
	urlColumn := services.URLColumn(site.Normalizer)

	switch site.Handler {
	case "json":
		return NewAPIHandler(site, deps.Clients, log), nil
	case "html":
		return NewHTMLHandler(site, deps.Clients, urlColumn, log)
	case "browser":
		if deps.Launcher == nil {
			return nil, fmt.Errorf("site %s needs a browser", site.ID)
		}
		return NewBrowserHandler(site, deps.Launcher, urlColumn, log)
	default:
		return nil, fmt.Errorf("unknown handler %q for site %s", site.Handler, site.ID)
	}
}

func newLimiter(ms int) *rate.Limiter {
	if ms <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(ms)*time.Millisecond), 1)
}

func isKnown(known map[string]struct{}, url string) bool {
	if known == nil {
		return false
	}
	_, ok := known[url]
	return ok
}
