package sonarqube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/13rac1/sqpurge/internal/redactor"
	"github.com/13rac1/sqpurge/internal/types"
)

// PageSize is the number of projects requested per search page.
const PageSize = 200

// SearchParams holds the optional search filters. Empty fields are not sent.
type SearchParams struct {
	// AnalyzedBefore keeps projects whose last analysis is older than this date (YYYY-MM-DD).
	AnalyzedBefore string

	// Projects is a comma-separated list of project keys.
	Projects string

	// Q is a free-text filter on project name or key.
	Q string
}

// IsEmpty reports whether no filter is set, which the server treats as "all projects".
func (p SearchParams) IsEmpty() bool {
	return p.AnalyzedBefore == "" && p.Projects == "" && p.Q == ""
}

func (p SearchParams) values(page int) url.Values {
	v := url.Values{}
	v.Set("p", strconv.Itoa(page))
	v.Set("ps", strconv.Itoa(PageSize))
	if p.AnalyzedBefore != "" {
		v.Set("analyzedBefore", p.AnalyzedBefore)
	}
	if p.Projects != "" {
		v.Set("projects", p.Projects)
	}
	if p.Q != "" {
		v.Set("q", p.Q)
	}
	return v
}

// Paging is the pagination metadata reported by the server for one page.
type Paging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

// SearchPage is one decoded response of api/projects/search.
type SearchPage struct {
	Components []types.Project `json:"components"`
	Paging     Paging          `json:"paging"`
}

// CoverageReached reports whether the pages fetched so far cover the reported total.
//
// The total is re-read from every page, so if projects are created or deleted
// while a scan is running the loop can stop early or fetch a page too many.
// Nothing compensates for that.
func CoverageReached(p Paging) bool {
	return p.PageIndex*p.PageSize >= p.Total
}

// Pages returns the search results one page at a time, starting at page 1.
// Every range over the sequence issues a fresh scan.
//
// The sequence ends after the page for which CoverageReached is true, after a
// page with no components, or after yielding an error. A non-200 answer is
// yielded as a *StatusError.
func (c *Client) Pages(ctx context.Context, params SearchParams) iter.Seq2[*SearchPage, error] {
	return func(yield func(*SearchPage, error) bool) {
		for page := 1; ; page++ {
			sp, err := c.fetchPage(ctx, params, page)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(sp, nil) {
				return
			}
			if CoverageReached(sp.Paging) || len(sp.Components) == 0 {
				return
			}
		}
	}
}

// Search collects every page into one slice in server order.
//
// When paging stops on an error the projects gathered so far are returned
// together with that error.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]types.Project, error) {
	projects := make([]types.Project, 0)
	for sp, err := range c.Pages(ctx, params) {
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) {
				c.logger.Error("project search failed",
					"status", se.StatusCode,
					"collected", len(projects))
			}
			return projects, err
		}
		projects = append(projects, sp.Components...)
	}
	return projects, nil
}

// FirstPage fetches page 1 only. It is used to probe connectivity and read the total.
func (c *Client) FirstPage(ctx context.Context, params SearchParams) (*SearchPage, error) {
	return c.fetchPage(ctx, params, 1)
}

func (c *Client) fetchPage(ctx context.Context, params SearchParams, page int) (*SearchPage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, searchPath, params.values(page), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Debug("http error response",
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"body", redactor.Redact(string(body)))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sp SearchPage
	if err := json.NewDecoder(resp.Body).Decode(&sp); err != nil {
		return nil, fmt.Errorf("decoding search page %d: %w", page, err)
	}
	return &sp, nil
}
