package statsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/retry"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "test-key", "vc-1", 5*time.Second, time.Millisecond, nil)
	c.backoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestGetStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Endpoint, r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req["key"])
		assert.Equal(t, "vc-1", req["verifycode"])
		assert.Equal(t, "http://example.com/article", req["url"])

		fmt.Fprint(w, `{"code": 0, "msg": "", "data": {"read": 1200, "zan": 34, "looking": 8}, "remain_money": 9.5}`)
	}))

	stats, err := c.GetStats(context.Background(), "http://example.com/article")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), stats.Reads)
	assert.Equal(t, int64(34), stats.Likes)
	assert.Equal(t, int64(8), stats.Watches)
}

func TestGetStats_OmitsEmptyVerifyCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, present := req["verifycode"]
		assert.False(t, present)
		fmt.Fprint(w, `{"code": 0, "data": {"read": 1, "zan": 0, "looking": 0}}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k", "", time.Second, time.Millisecond, nil)
	_, err := c.GetStats(context.Background(), "http://example.com/a")
	require.NoError(t, err)
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code      int
		msg       string
		wantType  errors.ErrorType
		retryable bool
	}{
		{-1, "", errors.ErrorTypeRateLimit, true},
		{101, "", errors.ErrorTypeRemote, false},
		{105, "", errors.ErrorTypeRemote, false},
		{106, "", errors.ErrorTypeRemote, false},
		{107, "", errors.ErrorTypeServerError, true},
		{10002, "", errors.ErrorTypeRemote, false},
		{20001, "", errors.ErrorTypeRemote, false},
		{20002, "", errors.ErrorTypeRemote, false},
		{20003, "", errors.ErrorTypeRemote, false},
		{50000, "", errors.ErrorTypeServerError, true},
		{777, "Internal Server Error", errors.ErrorTypeServerError, true},
		{777, "something else", errors.ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d_%s", tt.code, tt.msg), func(t *testing.T) {
			err := classifyCode(tt.code, tt.msg)
			assert.True(t, errors.Is(err, tt.wantType), "got %v", err)
			assert.Equal(t, tt.retryable, errors.IsRetryableError(err))
		})
	}
}

func TestGetStatsWithRetry_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			fmt.Fprint(w, `{"code": 50000, "msg": "Internal Server Error"}`)
			return
		}
		fmt.Fprint(w, `{"code": 0, "data": {"read": 10, "zan": 1, "looking": 0}}`)
	}))

	stats, err := c.GetStatsWithRetry(context.Background(), "http://example.com/a", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Reads)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetStatsWithRetry_TerminalNoRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"code": 101, "msg": "deleted"}`)
	}))

	_, err := c.GetStatsWithRetry(context.Background(), "http://example.com/a", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeRemote))
	assert.Equal(t, int32(1), calls.Load(), "terminal errors must not be retried")
}

func TestGetStatsWithRetry_Exhaustion(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.GetStatsWithRetry(context.Background(), "http://example.com/a", 3)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "max retry attempts")
}

func TestBatchGetStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req["url"] {
		case "http://example.com/good":
			fmt.Fprint(w, `{"code": 0, "data": {"read": 42, "zan": 4, "looking": 1}}`)
		case "http://example.com/gone":
			fmt.Fprint(w, `{"code": 101, "msg": "deleted"}`)
		default:
			fmt.Fprint(w, `{"code": 0, "data": {"read": 7, "zan": 0, "looking": 0}}`)
		}
	}))

	urls := []string{
		"http://example.com/good",
		"http://example.com/gone",
		"http://example.com/other",
	}
	results := c.BatchGetStats(context.Background(), urls, 2)
	require.Len(t, results, 3)

	good := results["http://example.com/good"]
	require.NoError(t, good.Err)
	assert.Equal(t, int64(42), good.Stats.Reads)

	gone := results["http://example.com/gone"]
	require.Error(t, gone.Err)
	assert.Nil(t, gone.Stats)

	other := results["http://example.com/other"]
	require.NoError(t, other.Err, "a failed URL must not abort the rest of the batch")
	assert.Equal(t, int64(7), other.Stats.Reads)
}
