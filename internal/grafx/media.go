package grafx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
)

// Connectors returns every connector of the environment.
func (c *Client) Connectors(ctx context.Context) ([]models.Connector, error) {
	return listAll[models.Connector](ctx, c, c.url("/connectors", nil))
}

// MediaConnectors returns the enabled media connectors.
func (c *Client) MediaConnectors(ctx context.Context) ([]models.Connector, error) {
	all, err := c.Connectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrFailedToFetchConnectors, err)
	}
	return lo.Filter(all, func(conn models.Connector, _ int) bool {
		return conn.Type == models.ConnectorTypeMedia && conn.Enabled
	}), nil
}

// QueryMedia fetches one page of a media connector collection. The returned
// NextPageToken is empty on the last page.
func (c *Client) QueryMedia(ctx context.Context, connectorID string, opts models.QueryOptions) (models.QueryPage[models.MediaItem], error) {
	var page models.QueryPage[models.MediaItem]

	target := opts.PageToken
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		size := opts.PageSize
		if size <= 0 {
			size = models.QueryPageSize
		}
		q := url.Values{}
		q.Set("collection", opts.Collection)
		q.Set("pageSize", strconv.Itoa(size))
		if opts.PageToken != "" {
			q.Set("pageToken", opts.PageToken)
		}
		q.Set("filter", strings.Join(opts.Filter, ","))
		target = c.url("/connectors/"+url.PathEscape(connectorID)+"/media", q)
	}

	var resp listResponse[models.MediaItem]
	if err := c.getJSON(ctx, target, &resp); err != nil {
		return page, err
	}
	page.PageSize = resp.PageSize
	page.Data = resp.Data
	page.NextPageToken = pageToken(resp.Links.NextPage)
	return page, nil
}

// pageToken extracts the pageToken parameter of a next-page link. Links
// without one are returned whole and followed as is.
func pageToken(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	if t := u.Query().Get("pageToken"); t != "" {
		return t
	}
	return next
}

func (c *Client) visionURL(connectorID, assetID string) string {
	return c.url("/connectors/"+url.PathEscape(connectorID)+"/media/"+url.PathEscape(assetID)+"/vision", nil)
}

// GetVision returns the vision metadata of an asset. Assets without any
// fail with apperr.ErrVisionNotFound.
func (c *Client) GetVision(ctx context.Context, connectorID, assetID string) (smartcrop.Metadata, error) {
	var meta smartcrop.Metadata
	err := c.getJSON(ctx, c.visionURL(connectorID, assetID), &meta)
	var httpErr *apperr.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", apperr.ErrVisionNotFound, assetID)
	}
	return meta, err
}

// SetVision replaces the vision metadata of an asset.
func (c *Client) SetVision(ctx context.Context, connectorID, assetID string, meta smartcrop.Metadata) error {
	return c.sendJSON(ctx, http.MethodPost, c.visionURL(connectorID, assetID), meta, nil)
}

var _ smartcrop.VisionStore = (*Client)(nil)
