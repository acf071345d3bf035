package mpclient

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// PostSummary is one article entry from an account's publish listing.
type PostSummary struct {
	AID       string
	Title     string
	URL       string
	CoverURL  string
	Digest    string
	Author    string
	PublishTS int64
	Raw       json.RawMessage
}

// listingItem covers the fields shared by both listing endpoints. The full
// raw item is kept alongside for archival.
type listingItem struct {
	AID        json.Number `json:"aid"`
	Title      string      `json:"title"`
	Link       string      `json:"link"`
	URL        string      `json:"url"`
	Cover      string      `json:"cover"`
	PicURL     string      `json:"pic_url"`
	Digest     string      `json:"digest"`
	Author     string      `json:"author"`
	UpdateTime json.Number `json:"update_time"`
	CreateTime json.Number `json:"create_time"`
}

func numToInt64(n json.Number) int64 {
	if n == "" {
		return 0
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (it *listingItem) toSummary(raw json.RawMessage) (PostSummary, bool) {
	link := strings.TrimSpace(it.Link)
	if link == "" {
		link = strings.TrimSpace(it.URL)
	}
	if link == "" {
		return PostSummary{}, false
	}

	cover := it.Cover
	if cover == "" {
		cover = it.PicURL
	}
	ts := numToInt64(it.UpdateTime)
	if ts == 0 {
		ts = numToInt64(it.CreateTime)
	}

	return PostSummary{
		AID:       it.AID.String(),
		Title:     it.Title,
		URL:       link,
		CoverURL:  cover,
		Digest:    it.Digest,
		Author:    it.Author,
		PublishTS: ts,
		Raw:       raw,
	}, true
}

// FetchListingPage returns one page of an account's published posts, newest
// first. Prefers the publish listing endpoint and falls back to the legacy
// appmsg endpoint when it returns nothing.
func (c *Client) FetchListingPage(ctx context.Context, fakeid string, begin, count int) ([]PostSummary, error) {
	posts, err := c.fetchPublishPage(ctx, fakeid, begin, count)
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		return posts, nil
	}
	return c.fetchAppmsgPage(ctx, fakeid, begin, count)
}

// publishResponse is the modern listing shape. publish_page is a JSON
// document serialized as a string inside the outer JSON.
type publishResponse struct {
	BaseResp    baseResp        `json:"base_resp"`
	PublishPage json.RawMessage `json:"publish_page"`
}

type publishPage struct {
	PublishList []struct {
		PublishInfo json.RawMessage `json:"publish_info"`
	} `json:"publish_list"`
}

type publishInfo struct {
	AppmsgEx []json.RawMessage `json:"appmsgex"`
}

// unwrapJSONString decodes a value that may arrive either as an embedded
// object or as a JSON document serialized into a string.
func unwrapJSONString(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, `"`) {
		return raw
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil
	}
	return json.RawMessage(inner)
}

func (c *Client) fetchPublishPage(ctx context.Context, fakeid string, begin, count int) ([]PostSummary, error) {
	params := url.Values{
		"sub":        {"list"},
		"sub_action": {"list_ex"},
		"begin":      {strconv.Itoa(begin)},
		"count":      {strconv.Itoa(count)},
		"fakeid":     {fakeid},
	}

	var resp publishResponse
	if err := c.getJSON(ctx, "/cgi-bin/appmsgpublish", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.BaseResp.check(); err != nil {
		if err == ErrSessionInvalid {
			c.markExpired("upstream rejected session")
		}
		return nil, err
	}

	if len(resp.PublishPage) == 0 {
		return nil, nil
	}
	pageRaw := unwrapJSONString(resp.PublishPage)
	if pageRaw == nil {
		return nil, nil
	}

	var page publishPage
	if err := json.Unmarshal(pageRaw, &page); err != nil {
		return nil, nil
	}

	var posts []PostSummary
	for _, entry := range page.PublishList {
		infoRaw := unwrapJSONString(entry.PublishInfo)
		if infoRaw == nil {
			continue
		}
		var info publishInfo
		if err := json.Unmarshal(infoRaw, &info); err != nil {
			continue
		}
		for _, itemRaw := range info.AppmsgEx {
			var item listingItem
			if err := json.Unmarshal(itemRaw, &item); err != nil {
				continue
			}
			if post, ok := item.toSummary(itemRaw); ok {
				posts = append(posts, post)
			}
		}
	}
	return posts, nil
}

// appmsgResponse is the legacy listing shape with a flat item array.
type appmsgResponse struct {
	BaseResp   baseResp          `json:"base_resp"`
	AppMsgList []json.RawMessage `json:"app_msg_list"`
}

func (c *Client) fetchAppmsgPage(ctx context.Context, fakeid string, begin, count int) ([]PostSummary, error) {
	params := url.Values{
		"action": {"list_ex"},
		"begin":  {strconv.Itoa(begin)},
		"count":  {strconv.Itoa(count)},
		"fakeid": {fakeid},
		"type":   {"9"},
	}

	var resp appmsgResponse
	if err := c.getJSON(ctx, "/cgi-bin/appmsg", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.BaseResp.check(); err != nil {
		if err == ErrSessionInvalid {
			c.markExpired("upstream rejected session")
		}
		return nil, err
	}

	var posts []PostSummary
	for _, itemRaw := range resp.AppMsgList {
		var item listingItem
		if err := json.Unmarshal(itemRaw, &item); err != nil {
			continue
		}
		if post, ok := item.toSummary(itemRaw); ok {
			posts = append(posts, post)
		}
	}
	return posts, nil
}
