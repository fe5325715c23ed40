// Package kis implements a client for the Korea Investment Securities (KIS)
// open-trading API: OAuth2 client-credentials token issuance plus the
// domestic and overseas OHLCV query endpoints.
package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/tricalas/stock-analyzer/internal/data"
)

const (
	mockBaseURL = "https://openapivts.koreainvestment.com:29443"
	liveBaseURL = "https://openapi.koreainvestment.com:9443"

	trKROHLCV = "FHKST03010100"
	trUSOHLCV = "HHDFS76240000"
)

// Bar is one raw OHLCV record as decoded off the wire, before the
// collection engine validates and converts it into models.PriceHistory.
type Bar struct {
	Date   string // YYYYMMDD
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

// Client is the broker client described by the engine's external
// interfaces: authenticated OHLCV lookups for KR and US markets, with
// transparent token caching across process restarts.
type Client struct {
	httpClient *http.Client
	db         *pgxpool.Pool
	baseURL    string
	appKey     string
	appSecret  string
	isMock     bool

	tokenSource oauth2.TokenSource
}

// NewClient builds a broker client bound to conn's HTTP transport and
// database (the latter backs the persistent token cache).
func NewClient(conn *data.Conn) *Client {
	baseURL := liveBaseURL
	if conn.KISIsMock {
		baseURL = mockBaseURL
	}

	c := &Client{
		httpClient: conn.HTTP,
		db:         conn.DB,
		baseURL:    baseURL,
		appKey:     conn.KISAppKey,
		appSecret:  conn.KISAppSecret,
		isMock:     conn.KISIsMock,
	}
	c.tokenSource = oauth2.ReuseTokenSourceWithExpiry(nil, &tokenSource{client: c}, earlyRefreshWindow)
	return c
}

// authorize attaches the current bearer token and the broker's mandatory
// appkey/appsecret/tr_id headers to req.
func (c *Client) authorize(ctx context.Context, req *http.Request, trID string) error {
	tok, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("kis: acquiring token: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")
	return req.Context().Err()
}

// envelope is the common response wrapper every KIS endpoint returns.
type envelope struct {
	RtCd  string          `json:"rt_cd"`
	Msg1  string          `json:"msg1"`
	MsgCd string          `json:"msg_cd"`
	Out2  json.RawMessage `json:"output2"`
}

// UpstreamError is a typed rejection carrying the broker's own message,
// distinguished from transport-level failures so the collection engine can
// tell "broker said no" apart from "network blew up".
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("kis upstream rejected request (%s): %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, path string, query map[string]string, trID string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	if err := c.authorize(ctx, req, trID); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kis: request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("kis: decoding response: %w", err)
	}
	if env.RtCd != "0" {
		return nil, &UpstreamError{Code: env.MsgCd, Message: env.Msg1}
	}

	var rows []json.RawMessage
	if len(env.Out2) > 0 {
		if err := json.Unmarshal(env.Out2, &rows); err != nil {
			return nil, fmt.Errorf("kis: decoding output2: %w", err)
		}
	}
	return rows, nil
}

// GetKROHLCV fetches domestic daily/weekly/monthly OHLCV for symbol between
// start and end (both YYYYMMDD, inclusive).
func (c *Client) GetKROHLCV(ctx context.Context, symbol, start, end string, period rune) ([]Bar, error) {
	rows, err := c.do(ctx, "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice", map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         symbol,
		"FID_INPUT_DATE_1":       start,
		"FID_INPUT_DATE_2":       end,
		"FID_PERIOD_DIV_CODE":    string(period),
		"FID_ORG_ADJ_PRC":        "0",
	}, trKROHLCV)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(rows))
	for _, raw := range rows {
		var row struct {
			Date   string `json:"stck_bsop_date"`
			Open   string `json:"stck_oprc"`
			High   string `json:"stck_hgpr"`
			Low    string `json:"stck_lwpr"`
			Close  string `json:"stck_clpr"`
			Volume string `json:"acml_vol"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			logrus.WithError(err).Warn("kis: skipping malformed KR OHLCV row")
			continue
		}
		bars = append(bars, Bar{
			Date: row.Date, Open: row.Open, High: row.High,
			Low: row.Low, Close: row.Close, Volume: row.Volume,
		})
	}
	return bars, nil
}

// ExchangeCode maps a human exchange name onto the KIS overseas exchange
// code, defaulting to NAS for anything not explicitly known.
func ExchangeCode(exchange string) string {
	switch strings.ToUpper(exchange) {
	case "NASDAQ":
		return "NAS"
	case "NYSE":
		return "NYS"
	case "AMEX":
		return "AMS"
	default:
		return "NAS"
	}
}

// GetUSOHLCV fetches overseas daily/weekly/monthly OHLCV for symbol on the
// given exchange code (see ExchangeCode).
func (c *Client) GetUSOHLCV(ctx context.Context, symbol, exchangeCode string, period rune) ([]Bar, error) {
	rows, err := c.do(ctx, "/uapi/overseas-price/v1/quotations/dailyprice", map[string]string{
		"EXCD": exchangeCode,
		"SYMB": symbol,
		"GUBN": string(period),
		"BYMD": "",
		"MODP": "0",
	}, trUSOHLCV)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(rows))
	for _, raw := range rows {
		var row struct {
			Date   string `json:"xymd"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"clos"`
			Volume string `json:"tvol"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			logrus.WithError(err).Warn("kis: skipping malformed US OHLCV row")
			continue
		}
		bars = append(bars, Bar{
			Date: row.Date, Open: row.Open, High: row.High,
			Low: row.Low, Close: row.Close, Volume: row.Volume,
		})
	}
	return bars, nil
}
