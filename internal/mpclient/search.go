package mpclient

import (
	"context"
	"net/url"
	"strconv"
)

// AccountResult is one hit from the official-account search endpoint.
type AccountResult struct {
	FakeID   string
	Biz      string
	Nickname string
	Alias    string
	Avatar   string
	Intro    string
}

type searchBizResponse struct {
	BaseResp baseResp `json:"base_resp"`
	Total    int      `json:"total"`
	List     []struct {
		FakeID       string `json:"fakeid"`
		Biz          string `json:"biz"`
		Nickname     string `json:"nickname"`
		NickName     string `json:"nick_name"`
		Alias        string `json:"alias"`
		RoundHeadImg string `json:"round_head_img"`
		HeadImg      string `json:"head_img"`
		Signature    string `json:"signature"`
	} `json:"list"`
}

// SearchAccounts queries the platform's account directory by keyword.
func (c *Client) SearchAccounts(ctx context.Context, keyword string, offset, limit int) ([]AccountResult, int, error) {
	params := url.Values{
		"action": {"search_biz"},
		"begin":  {strconv.Itoa(offset)},
		"count":  {strconv.Itoa(limit)},
		"query":  {keyword},
	}

	var resp searchBizResponse
	if err := c.getJSON(ctx, "/cgi-bin/searchbiz", params, &resp); err != nil {
		return nil, 0, err
	}
	if err := resp.BaseResp.check(); err != nil {
		if err == ErrSessionInvalid {
			c.markExpired("upstream rejected session")
		}
		return nil, 0, err
	}

	results := make([]AccountResult, 0, len(resp.List))
	for _, item := range resp.List {
		nickname := item.Nickname
		if nickname == "" {
			nickname = item.NickName
		}
		avatar := item.RoundHeadImg
		if avatar == "" {
			avatar = item.HeadImg
		}
		results = append(results, AccountResult{
			FakeID:   item.FakeID,
			Biz:      item.Biz,
			Nickname: nickname,
			Alias:    item.Alias,
			Avatar:   avatar,
			Intro:    item.Signature,
		})
	}

	total := resp.Total
	if total == 0 {
		total = len(results)
	}
	return results, total, nil
}
