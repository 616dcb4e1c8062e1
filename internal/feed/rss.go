// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/resource"
)

// RSSConfig configures one RSS/Atom feed.
type RSSConfig struct {
	Name    string            `koanf:"name"`
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
	// RecordType tags produced candidates. Default "article".
	RecordType string `koanf:"record_type"`
}

// RSS fetches an RSS 2.0 or Atom document over the shared resource pool
// and emits one candidate per item. The natural key is the item's guid
// (falling back to its link), so reposts dedup across polls.
type RSS struct {
	cfg  RSSConfig
	pool *resource.Pool

	// etag carries the validator from the previous poll; a 304 response
	// yields an empty stream.
	etag string
}

var _ Adapter = (*RSS)(nil)

// NewRSS creates an RSS adapter over the shared pool.
func NewRSS(cfg RSSConfig, pool *resource.Pool) (*RSS, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("%w: rss adapter needs name and url", model.ErrConfig)
	}
	if cfg.RecordType == "" {
		cfg.RecordType = "article"
	}
	return &RSS{cfg: cfg, pool: pool}, nil
}

// Name implements Adapter.
func (r *RSS) Name() string { return r.cfg.Name }

// Open implements Adapter.
func (r *RSS) Open(ctx context.Context) error { return nil }

// Close implements Adapter.
func (r *RSS) Close(ctx context.Context) error { return nil }

// Fetch implements Adapter: one HTTP GET, then stream the parsed items.
func (r *RSS) Fetch(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)

		items, err := r.poll(ctx)
		if err != nil {
			emit(ctx, out, Item{Err: fmt.Errorf("%w: %s: %v", model.ErrAdapter, r.cfg.Name, err)})
			return
		}
		for _, c := range items {
			if !emit(ctx, out, Item{Candidate: c}) {
				return
			}
		}
	}()
	return out
}

func (r *RSS) poll(ctx context.Context) ([]model.RecordCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "feedspine/1.0")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}
	if r.etag != "" {
		req.Header.Set("If-None-Match", r.etag)
	}

	resp, err := r.pool.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", r.cfg.URL, resp.StatusCode)
	}
	r.etag = resp.Header.Get("ETag")

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	return r.parse(body)
}

// rssDocument covers RSS 2.0; atomDocument covers Atom.
type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
	Summary string `xml:"summary"`
	Links   []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

func (r *RSS) parse(body []byte) ([]model.RecordCandidate, error) {
	var rssDoc rssDocument
	if err := xml.Unmarshal(body, &rssDoc); err == nil && len(rssDoc.Channel.Items) > 0 {
		return r.fromRSS(rssDoc), nil
	}
	var atomDoc atomDocument
	if err := xml.Unmarshal(body, &atomDoc); err == nil && len(atomDoc.Entries) > 0 {
		return r.fromAtom(atomDoc), nil
	}
	return nil, fmt.Errorf("document is neither RSS nor Atom, or has no items")
}

func (r *RSS) fromRSS(doc rssDocument) []model.RecordCandidate {
	out := make([]model.RecordCandidate, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		key := it.GUID
		if key == "" {
			key = it.Link
		}
		if key == "" {
			continue
		}
		content := model.Content{
			"title": it.Title,
			"link":  it.Link,
		}
		if it.Description != "" {
			content["description"] = it.Description
		}
		if len(it.Categories) > 0 {
			cats := make([]any, len(it.Categories))
			for i, cat := range it.Categories {
				cats[i] = cat
			}
			content["categories"] = cats
		}
		c := model.NewCandidate(key, r.cfg.Name, content).WithRecordType(r.cfg.RecordType)
		if ts, ok := parseFeedTime(it.PubDate); ok {
			c = c.WithPublishedAt(ts)
		}
		out = append(out, c)
	}
	return out
}

func (r *RSS) fromAtom(doc atomDocument) []model.RecordCandidate {
	out := make([]model.RecordCandidate, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		key := e.ID
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		if key == "" {
			key = link
		}
		if key == "" {
			continue
		}
		content := model.Content{"title": e.Title}
		if link != "" {
			content["link"] = link
		}
		if e.Summary != "" {
			content["description"] = e.Summary
		}
		c := model.NewCandidate(key, r.cfg.Name, content).WithRecordType(r.cfg.RecordType)
		if ts, ok := parseFeedTime(e.Updated); ok {
			c = c.WithPublishedAt(ts)
		}
		out = append(out, c)
	}
	return out
}

// parseFeedTime accepts the timestamp formats seen in real feeds.
func parseFeedTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC3339,
		time.RFC822Z,
		time.RFC822,
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
