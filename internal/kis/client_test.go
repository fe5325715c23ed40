package kis

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestExchangeCodeMapsKnownExchanges(t *testing.T) {
	assert.Equal(t, "NAS", ExchangeCode("nasdaq"))
	assert.Equal(t, "NYS", ExchangeCode("NYSE"))
	assert.Equal(t, "AMS", ExchangeCode("Amex"))
	assert.Equal(t, "NAS", ExchangeCode("some-unknown-venue"))
}

// staticTokenSource satisfies oauth2.TokenSource without touching the
// network or the token cache, so GetKROHLCV/GetUSOHLCV can be exercised
// against a fake broker server in isolation.
type staticTokenSource struct{}

func (staticTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "test-token"}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		httpClient:  srv.Client(),
		baseURL:     srv.URL,
		appKey:      "key",
		appSecret:   "secret",
		tokenSource: staticTokenSource{},
	}
}

func TestGetKROHLCVParsesRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, trKROHLCV, r.Header.Get("tr_id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))
		assert.Equal(t, "005930", r.URL.Query().Get("FID_INPUT_ISCD"))

		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "0",
			"msg1":  "success",
			"output2": []map[string]string{
				{"stck_bsop_date": "20260115", "stck_oprc": "70000", "stck_hgpr": "71000", "stck_lwpr": "69500", "stck_clpr": "70500", "acml_vol": "1234567"},
			},
		})
	})

	bars, err := c.GetKROHLCV(t.Context(), "005930", "20260101", "20260131", 'D')
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "20260115", bars[0].Date)
	assert.Equal(t, "70500", bars[0].Close)
}

func TestGetUSOHLCVParsesRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, trUSOHLCV, r.Header.Get("tr_id"))
		assert.Equal(t, "NAS", r.URL.Query().Get("EXCD"))

		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "0",
			"output2": []map[string]string{
				{"xymd": "20260115", "open": "180.1", "high": "182.5", "low": "179.0", "clos": "181.2", "tvol": "98765"},
			},
		})
	})

	bars, err := c.GetUSOHLCV(t.Context(), "AAPL", ExchangeCode("NASDAQ"), 'D')
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "181.2", bars[0].Close)
}

func TestDoReturnsUpstreamErrorOnNonZeroRtCd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "1",
			"msg1":  "invalid appkey",
			"msg_cd": "EGW00123",
		})
	})

	_, err := c.GetKROHLCV(t.Context(), "005930", "20260101", "20260131", 'D')
	require.Error(t, err)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "EGW00123", upstream.Code)
}

func TestGetKROHLCVSkipsMalformedRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "0",
			"output2": []any{
				"not-an-object",
				map[string]string{"stck_bsop_date": "20260116", "stck_oprc": "1", "stck_hgpr": "2", "stck_lwpr": "0", "stck_clpr": "1", "acml_vol": "1"},
			},
		})
	})

	bars, err := c.GetKROHLCV(t.Context(), "005930", "20260101", "20260131", 'D')
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "20260116", bars[0].Date)
}
