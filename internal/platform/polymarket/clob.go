package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
)

// ClobClient is the read-only REST client for the Polymarket CLOB (Central
// Limit Order Book) API. It is used as the pull fallback for book snapshots.
type ClobClient struct {
	baseURL string
	rest    *restclient.Client
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, rest *restclient.Client) *ClobClient {
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    rest,
	}
}

// GetBook fetches the full orderbook snapshot for a token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (BookMessage, error) {
	var book BookMessage
	endpoint := c.baseURL + "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.rest.GetJSON(ctx, endpoint, &book); err != nil {
		return BookMessage{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book, nil
}

// GetBookTop fetches the book for a token and reduces it to its top level.
func (c *ClobClient) GetBookTop(ctx context.Context, tokenID string) (domain.TopOfBook, error) {
	book, err := c.GetBook(ctx, tokenID)
	if err != nil {
		return domain.TopOfBook{}, err
	}
	return book.ToTopOfBook(), nil
}
