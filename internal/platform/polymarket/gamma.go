package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market discovery.
type GammaClient struct {
	baseURL string
	rest    *restclient.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, rest *restclient.Client) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    rest,
	}
}

// GetEventBySlug returns the event with the given slug. The path form
// /events/slug/{slug} is tried first; deployments that do not serve it fall
// back to the /events?slug= list query.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	var ev APIEvent
	err := g.rest.GetJSON(ctx, g.baseURL+"/events/slug/"+url.PathEscape(slug), &ev)
	if err == nil && (ev.Slug != "" || len(ev.Markets) > 0) {
		if ev.Slug == "" {
			ev.Slug = slug
		}
		return ev, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var list []APIEvent
	if err := g.rest.GetJSON(ctx, g.baseURL+"/events?slug="+url.QueryEscape(slug), &list); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: list events %s: %w", slug, err)
	}
	for _, e := range list {
		if e.Slug == slug || e.Slug == "" {
			if e.Slug == "" {
				e.Slug = slug
			}
			return e, nil
		}
	}
	return APIEvent{}, fmt.Errorf("polymarket/gamma: event %s: %w", slug, domain.ErrNotFound)
}

// GetEventWindow resolves a slug straight to an EventWindow.
func (g *GammaClient) GetEventWindow(ctx context.Context, slug string) (domain.EventWindow, error) {
	ev, err := g.GetEventBySlug(ctx, slug)
	if err != nil {
		return domain.EventWindow{}, err
	}
	return ev.ToEventWindow()
}
