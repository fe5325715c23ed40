package kis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"golang.org/x/oauth2"
)

const earlyRefreshWindow = 5 * time.Minute

// dbQuerier is the pgxpool.Pool surface the token cache needs; narrowed to
// an interface so tests can fake it without a live database.
type dbQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// tokenSource implements oauth2.TokenSource over the KIS client-credentials
// flow. It is wrapped in oauth2.ReuseTokenSource by NewClient so repeated
// calls within a token's validity window never hit the network.
type tokenSource struct {
	client *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ctx := context.Background()
	c := ts.client

	cacheKey := cacheKeyFor(c.appKey, c.isMock)
	if tok, expiresAt, err := loadCachedToken(ctx, c.db, cacheKey); err == nil && tok != "" {
		if time.Until(expiresAt) > earlyRefreshWindow {
			return &oauth2.Token{AccessToken: tok, Expiry: expiresAt}, nil
		}
	}

	accessToken, expiresIn, err := issueToken(ctx, c)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	if err := saveCachedToken(ctx, c.db, cacheKey, accessToken, expiresAt); err != nil {
		// A failed cache write doesn't invalidate the token we just got.
		return &oauth2.Token{AccessToken: accessToken, Expiry: expiresAt}, nil
	}
	return &oauth2.Token{AccessToken: accessToken, Expiry: expiresAt}, nil
}

// cacheKeyFor matches the client identity a cached token was issued for, so
// switching between mock and live credentials never reuses the wrong token.
func cacheKeyFor(appKey string, isMock bool) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%v", appKey, isMock)))
	return hex.EncodeToString(sum[:])
}

func issueToken(ctx context.Context, c *Client) (string, int64, error) {
	path := "/oauth2/token"
	if c.isMock {
		path = "/oauth2/tokenP"
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("kis: token request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("kis: decoding token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("kis: token response missing access_token")
	}
	if out.ExpiresIn == 0 {
		out.ExpiresIn = 86400
	}
	return out.AccessToken, out.ExpiresIn, nil
}

func loadCachedToken(ctx context.Context, db dbQuerier, cacheKey string) (string, time.Time, error) {
	var token string
	var expiresAt time.Time
	row := db.QueryRow(ctx, `SELECT access_token, expired_at FROM token_cache WHERE provider = 'kis' AND cache_key = $1`, cacheKey)
	if err := row.Scan(&token, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func saveCachedToken(ctx context.Context, db dbQuerier, cacheKey, token string, expiresAt time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO token_cache (provider, cache_key, access_token, expired_at)
		VALUES ('kis', $1, $2, $3)
		ON CONFLICT (provider, cache_key) DO UPDATE
		SET access_token = EXCLUDED.access_token, expired_at = EXCLUDED.expired_at`,
		cacheKey, token, expiresAt)
	return err
}
