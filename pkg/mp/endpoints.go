package mp

import (
	"fmt"
	"net/url"
)

// BaseURL is the platform admin console endpoint.
const BaseURL = "https://mp.weixin.qq.com"

// SearchAccountURL builds the account search endpoint URL.
func SearchAccountURL(base, token, query string, begin, count int) string {
	return fmt.Sprintf(
		"%s/cgi-bin/searchbiz?action=search_biz&token=%s&lang=zh_CN&f=json&ajax=1&query=%s&begin=%d&count=%d",
		base, url.QueryEscape(token), url.QueryEscape(query), begin, count,
	)
}

// ListArticlesURL builds the published-article listing endpoint URL.
func ListArticlesURL(base, token, fakeID string, begin, count int) string {
	return fmt.Sprintf(
		"%s/cgi-bin/appmsg?action=list_ex&token=%s&lang=zh_CN&f=json&ajax=1&fakeid=%s&query=&begin=%d&count=%d&type=9",
		base, url.QueryEscape(token), url.QueryEscape(fakeID), begin, count,
	)
}
