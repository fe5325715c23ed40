// Package data provides database connection and data access functionality
package data

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

// Conn encapsulates database connections and broker credentials shared across
// every component (the broker client, the collection engine, the analyzer,
// the task runner all take a *Conn rather than reaching for a singleton).
type Conn struct {
	DB    *pgxpool.Pool
	Cache *redis.Client // nil when neither REDIS_URL nor REDIS_HOST is set; callers fall back to in-memory state

	HTTP *http.Client

	KISAppKey        string
	KISAppSecret     string
	KISAccountNumber string
	KISAccountCode   string
	KISIsMock        bool

	ExecutionEnvironment string
}

type dbConnResult struct {
	conn *pgxpool.Pool
	err  error
}

type redisConnResult struct {
	client *redis.Client
	err    error
}

// InitConn builds the shared database, cache, and HTTP plumbing the rest of
// the engine depends on. Connection attempts retry for up to 90s before
// giving up, since container startup ordering means the database or cache
// may not be reachable on the very first try.
func InitConn(inContainer bool) (*Conn, func()) {
	dbHost := getEnv("DB_HOST", "db")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbName := getEnv("DB_NAME", "stock_analyzer")

	redisURL := getEnv("REDIS_URL", "")
	redisHost := getEnv("REDIS_HOST", "")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	kisAppKey := getEnv("KIS_APP_KEY", "")
	kisAppSecret := getEnv("KIS_APP_SECRET", "")
	kisAccountNumber := getEnv("KIS_ACCOUNT_NUMBER", "")
	kisAccountCode := getEnv("KIS_ACCOUNT_CODE", "")
	kisIsMock := getEnv("KIS_IS_MOCK", "true") == "true"

	executionEnvironment := getEnv("ENVIRONMENT", "")
	if executionEnvironment == "" || executionEnvironment == "dev" || executionEnvironment == "development" {
		executionEnvironment = "dev"
	} else {
		executionEnvironment = "prod"
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		encodedPassword := url.QueryEscape(dbPassword)
		if inContainer {
			dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", dbUser, encodedPassword, dbHost, dbPort, dbName)
		} else {
			dbURL = fmt.Sprintf("postgres://%s:%s@localhost:%s/%s", dbUser, encodedPassword, dbPort, dbName)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	dbResult := make(chan dbConnResult, 1)
	go func() {
		defer close(dbResult)
		var lastErr error
		for {
			select {
			case <-ctx.Done():
				dbResult <- dbConnResult{conn: nil, err: lastErr}
				return
			default:
				poolConfig, parseErr := pgxpool.ParseConfig(dbURL)
				if parseErr != nil {
					lastErr = parseErr
					time.Sleep(1 * time.Second)
					continue
				}

				poolConfig.MaxConns = 50
				poolConfig.MinConns = 10
				poolConfig.MaxConnLifetime = 60 * time.Minute
				poolConfig.MaxConnIdleTime = 5 * time.Minute
				poolConfig.HealthCheckPeriod = 30 * time.Second
				poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

				dbConn, err := pgxpool.ConnectConfig(ctx, poolConfig)
				if err != nil {
					lastErr = err
					time.Sleep(1 * time.Second)
					continue
				}
				dbResult <- dbConnResult{conn: dbConn, err: nil}
				return
			}
		}
	}()

	dbRes := <-dbResult
	if dbRes.err != nil || dbRes.conn == nil {
		panic(fmt.Sprintf("failed to connect to database after 90 seconds: %v", dbRes.err))
	}

	var cache *redis.Client
	if redisURL != "" || redisHost != "" {
		opts := &redis.Options{
			PoolSize:        20,
			MinIdleConns:    10,
			PoolTimeout:     60 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxRetries:      5,
			MinRetryBackoff: 1 * time.Second,
			MaxRetryBackoff: 10 * time.Second,
			DialTimeout:     5 * time.Second,
		}

		if redisURL != "" {
			parsed, err := redis.ParseURL(redisURL)
			if err != nil {
				logrus.WithError(err).Warn("REDIS_URL unparseable, falling back to discrete REDIS_HOST settings")
				redisURL = ""
			} else {
				opts.Addr = parsed.Addr
				opts.Password = parsed.Password
				opts.DB = parsed.DB
			}
		}
		if redisURL == "" {
			cacheURL := fmt.Sprintf("%s:%s", redisHost, redisPort)
			if !inContainer {
				cacheURL = fmt.Sprintf("localhost:%s", redisPort)
			}
			opts.Addr = cacheURL
			if redisPassword != "" {
				opts.Password = redisPassword
			}
		}

		redisCtx, redisCancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer redisCancel()

		redisResult := make(chan redisConnResult, 1)
		go func() {
			defer close(redisResult)
			var lastErr error
			for {
				select {
				case <-redisCtx.Done():
					redisResult <- redisConnResult{client: nil, err: lastErr}
					return
				default:
					client := redis.NewClient(opts)
					if err := client.Ping(redisCtx).Err(); err != nil {
						lastErr = err
						time.Sleep(1 * time.Second)
						continue
					}
					redisResult <- redisConnResult{client: client, err: nil}
					return
				}
			}
		}()

		redisRes := <-redisResult
		if redisRes.err != nil || redisRes.client == nil {
			logrus.WithError(redisRes.err).Warn("redis unavailable, progress broadcast falls back to in-memory state")
		} else {
			cache = redisRes.client
		}
	}

	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 60 * time.Second,
			ExpectContinueTimeout: 10 * time.Second,
			MaxConnsPerHost:       100,
		},
	}

	localConn := &Conn{
		DB:                   dbRes.conn,
		Cache:                cache,
		HTTP:                 httpClient,
		KISAppKey:            kisAppKey,
		KISAppSecret:         kisAppSecret,
		KISAccountNumber:     kisAccountNumber,
		KISAccountCode:       kisAccountCode,
		KISIsMock:            kisIsMock,
		ExecutionEnvironment: executionEnvironment,
	}

	cleanup := func() {
		if localConn.DB != nil {
			localConn.DB.Close()
		}
		if localConn.Cache != nil {
			if err := localConn.Cache.Close(); err != nil {
				logrus.WithError(err).Error("error closing redis connection")
			}
		}
	}
	return localConn, cleanup
}

// getEnv returns the environment variable or fallback when unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// TestRedisConnectivity exercises a write/read round trip against the cache.
func (c *Conn) TestRedisConnectivity(ctx context.Context) (bool, string) {
	if c == nil || c.Cache == nil {
		return false, "redis cache client is not initialized"
	}

	testKey := fmt.Sprintf("health_check:%d", time.Now().UnixNano())
	testValue := "ok"

	if err := c.Cache.Set(ctx, testKey, testValue, 5*time.Minute).Err(); err != nil {
		return false, fmt.Sprintf("redis write test failed: %v", err)
	}
	val, err := c.Cache.Get(ctx, testKey).Result()
	if err != nil {
		return false, fmt.Sprintf("redis read test failed: %v", err)
	}
	if val != testValue {
		return false, fmt.Sprintf("redis read test returned unexpected value: %s", val)
	}
	return true, "redis connection test successful"
}
