// Package upstream talks to the content-metadata and match-report services.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Availability mirrors the download status of a content item.
type Availability struct {
	DownloadDisabled bool   `json:"download_disabled"`
	MoreInformation  string `json:"more_information,omitempty"`
}

// Metadata is the attribute payload of one content item.
type Metadata struct {
	model.ContentItem
	Availability Availability `json:"availability"`
}

// Item returns the catalog row, marked unavailable when downloads are disabled.
func (m Metadata) Item() model.ContentItem {
	it := m.ContentItem
	it.Unavailable = it.Unavailable || m.Availability.DownloadDisabled
	return it
}

// MetadataSource fetches content attributes by id.
type MetadataSource interface {
	FetchAttributes(ctx context.Context, id int64) (Metadata, error)
}

// ReportSource fetches the authoritative result of a lobby's last match.
type ReportSource interface {
	FetchMatchReport(ctx context.Context, sessionID string) (model.MatchReport, error)
}

// Client implements MetadataSource and ReportSource over HTTP JSON.
type Client struct {
	metadataURL string
	reportURL   string
	client      *http.Client
}

// NewClient creates a client. A nil httpClient gets one with timeout.
func NewClient(metadataURL, reportURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{metadataURL: metadataURL, reportURL: reportURL, client: httpClient}
}

// FetchAttributes implements MetadataSource.
func (c *Client) FetchAttributes(ctx context.Context, id int64) (Metadata, error) {
	var md Metadata
	err := c.getJSON(ctx, c.metadataURL+"/content/"+strconv.FormatInt(id, 10), &md)
	if err != nil {
		return Metadata{}, fmt.Errorf("content %d: %w", id, err)
	}
	if md.ID == 0 {
		md.ID = id
	}
	return md, nil
}

// FetchMatchReport implements ReportSource. A missing report or one
// without results is ErrEmptyReport.
func (c *Client) FetchMatchReport(ctx context.Context, sessionID string) (model.MatchReport, error) {
	var report model.MatchReport
	err := c.getJSON(ctx, c.reportURL+"/matches/"+url.PathEscape(sessionID)+"/latest", &report)
	if errors.Is(err, ErrNotFound) {
		return report, fmt.Errorf("match %s: %w", sessionID, ErrEmptyReport)
	}
	if err != nil {
		return report, fmt.Errorf("match %s: %w", sessionID, err)
	}
	if len(report.Results) == 0 {
		return report, fmt.Errorf("match %s: %w", sessionID, ErrEmptyReport)
	}
	if report.LobbyID == "" {
		report.LobbyID = sessionID
	}
	return report, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrTransient, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream returned %s", resp.Status)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
