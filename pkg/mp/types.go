package mp

// BaseResp is the status envelope every console API response carries.
type BaseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

// Session-invalid return codes. Either one means the token or cookies
// are no longer accepted and a re-login is required.
const (
	RetSessionExpired = 200003
	RetNotLoggedIn    = 200013
)

// AuthInvalid reports whether the response says the session is dead.
func (r BaseResp) AuthInvalid() bool {
	return r.Ret == RetSessionExpired || r.Ret == RetNotLoggedIn
}

// OK reports whether the request succeeded.
func (r BaseResp) OK() bool {
	return r.Ret == 0
}

// AccountHit is one result from the account search endpoint.
type AccountHit struct {
	FakeID   string `json:"fakeid"`
	Nickname string `json:"nickname"`
	Alias    string `json:"alias"`
}

type searchResponse struct {
	BaseResp BaseResp     `json:"base_resp"`
	Total    int          `json:"total"`
	List     []AccountHit `json:"list"`
}

// ArticleItem is one published article from the listing endpoint.
type ArticleItem struct {
	AID        string `json:"aid"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	Digest     string `json:"digest"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

type listResponse struct {
	BaseResp       BaseResp      `json:"base_resp"`
	AppMsgCnt      int           `json:"app_msg_cnt"`
	AppMsgList     []ArticleItem `json:"app_msg_list"`
	PublishedCount int           `json:"published_count"`
}

// ArticlePage is one page of the published-article listing.
type ArticlePage struct {
	Items []ArticleItem
	// Total is the platform's reported total article count
	Total int
}
