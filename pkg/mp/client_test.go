package mp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/session"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(server.URL, 5*time.Second, nil)
	c.UseCredential(&session.Credential{
		Token:    "tok-1",
		Cookies:  map[string]string{"sid": "abc"},
		IssuedAt: time.Now(),
	})
	return c
}

func TestSearchAccount(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/searchbiz", r.URL.Path)
		assert.Equal(t, "search_biz", r.URL.Query().Get("action"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
		assert.Equal(t, "daily news", r.URL.Query().Get("query"))
		assert.Equal(t, "sid=abc", r.Header.Get("Cookie"))

		fmt.Fprint(w, `{
			"base_resp": {"ret": 0, "err_msg": "ok"},
			"list": [
				{"fakeid": "MzI1", "nickname": "daily news", "alias": "dailynews"},
				{"fakeid": "MzI2", "nickname": "daily news weekly", "alias": ""}
			]
		}`)
	}))

	hit, err := c.SearchAccount(context.Background(), "daily news")
	require.NoError(t, err)
	assert.Equal(t, "MzI1", hit.FakeID)
	assert.Equal(t, "daily news", hit.Nickname)
}

func TestSearchAccount_NoResults(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base_resp": {"ret": 0, "err_msg": "ok"}, "list": []}`)
	}))

	_, err := c.SearchAccount(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
}

func TestSearchAccount_SessionInvalid(t *testing.T) {
	for _, ret := range []int{200003, 200013} {
		t.Run(fmt.Sprintf("ret_%d", ret), func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"base_resp": {"ret": %d, "err_msg": "invalid session"}}`, ret)
			}))

			_, err := c.SearchAccount(context.Background(), "any")
			require.Error(t, err)
			assert.True(t, errors.IsSessionInvalid(err))
		})
	}
}

func TestListArticles(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/appmsg", r.URL.Path)
		assert.Equal(t, "list_ex", r.URL.Query().Get("action"))
		assert.Equal(t, "MzI1", r.URL.Query().Get("fakeid"))
		assert.Equal(t, "5", r.URL.Query().Get("begin"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))

		fmt.Fprint(w, `{
			"base_resp": {"ret": 0, "err_msg": "ok"},
			"app_msg_cnt": 42,
			"app_msg_list": [
				{"aid": "a1", "title": "First", "link": "http://example.com/1", "create_time": 1735700000},
				{"aid": "a2", "title": "Second", "link": "http://example.com/2", "create_time": 1735600000}
			]
		}`)
	}))

	page, err := c.ListArticles(context.Background(), "MzI1", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 42, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "First", page.Items[0].Title)
	assert.Equal(t, int64(1735700000), page.Items[0].CreateTime)
}

func TestListArticles_ServerError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.ListArticles(context.Background(), "MzI1", 0, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeServerError))
}

func TestListArticles_MalformedJSON(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>login page</html>`)
	}))

	_, err := c.ListArticles(context.Background(), "MzI1", 0, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
}

func TestValidateSession(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"accepted", `{"base_resp": {"ret": 0, "err_msg": "ok"}, "list": []}`, false},
		{"expired", `{"base_resp": {"ret": 200003, "err_msg": "invalid session"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))

			err := c.ValidateSession(context.Background())
			if tt.wantErr {
				assert.True(t, errors.IsSessionInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchContent(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div id="header">nav stuff</div>
			<div id="js_content">
				<p>First paragraph.</p>
				<script>var tracked = true;</script>
				<p>Second   paragraph.</p>
			</div>
		</body></html>`)
	}))

	text, err := c.FetchContent(context.Background(), c.baseURL+"/s/article")
	require.NoError(t, err)
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second   paragraph.")
	assert.NotContains(t, text, "nav stuff")
	assert.NotContains(t, text, "tracked")
}

func TestFetchContent_MissingBody(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>deleted</p></body></html>`)
	}))

	text, err := c.FetchContent(context.Background(), c.baseURL+"/s/gone")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestEndpointURLs(t *testing.T) {
	u := SearchAccountURL("https://example.com", "t&k", "a b", 0, 5)
	assert.Contains(t, u, "token=t%26k")
	assert.Contains(t, u, "query=a+b")

	u = ListArticlesURL("https://example.com", "tok", "MzI1", 10, 5)
	assert.Contains(t, u, "begin=10")
	assert.Contains(t, u, "type=9")
}
