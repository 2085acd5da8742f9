package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Options configures a directory client
type Options struct {
	BaseURL     string
	Token       string
	AuthScheme  string // "Bearer"; empty sends the raw token
	RefreshPath string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 is unlimited
	Breaker     resilience.Settings
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// OptionsFromConfig maps the DIRECTORY_* settings onto client options
func OptionsFromConfig(cfg config.DirectoryConfig) Options {
	return Options{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.Token,
		AuthScheme:  cfg.AuthScheme,
		RefreshPath: cfg.RefreshPath,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
	}
}

// TokenStore holds the session access token
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// Token returns the current token
func (t *TokenStore) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Set replaces the token
func (t *TokenStore) Set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// Clear forgets the token
func (t *TokenStore) Clear() {
	t.Set("")
}

// Client talks to the Package Directory Service. It never retries on its
// own; callers decide whether to try again.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	tokens  *TokenStore
	refresh singleflight.Group

	opts    Options
	log     *logging.Logger
	metrics *monitoring.Metrics
	norm    *Normalizer

	packages *PackageResource
	couriers *CourierResource
}

// New creates a directory client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RefreshPath == "" {
		opts.RefreshPath = "/auth/refresh-token"
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	// pooled transport only; retries stay disabled
	pooled := retryablehttp.NewClient()
	pooled.Logger = nil

	restyClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetTransport(pooled.HTTPClient.Transport).
		SetCookieJar(jar).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "courier-tracker/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	log := opts.Logger.Component("directory")

	settings := opts.Breaker
	settings.IsFailure = tripsBreaker
	userHook := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		log.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		opts.Metrics.SetBreakerState(name, int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	c := &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("directory", settings),
		tokens:  &TokenStore{token: opts.Token},
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		norm:    NewNormalizer(),
	}

	c.packages = &PackageResource{
		client:    c,
		path:      "/packages",
		kind:      "package",
		normalize: c.norm.Package,
	}
	c.couriers = &CourierResource{
		client:    c,
		path:      "/couriers",
		kind:      "courier",
		normalize: c.norm.Courier,
	}
	return c, nil
}

// Packages returns the /packages resource
func (c *Client) Packages() *PackageResource {
	return c.packages
}

// Couriers returns the /couriers resource
func (c *Client) Couriers() *CourierResource {
	return c.couriers
}

// Normalizer returns the normalizer applied to fetched records
func (c *Client) Normalizer() *Normalizer {
	return c.norm
}

// Tokens returns the session token store
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// Close releases idle connections
func (c *Client) Close() {
	c.resty.GetClient().CloseIdleConnections()
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// call describes one directory request
type call struct {
	resource string
	op       string
	method   string
	path     string
	id       string
	query    map[string]string
	body     any
}

// do sends the call, refreshing the token and replaying once on 401, and
// maps non-2xx answers onto typed errors.
func (c *Client) do(ctx context.Context, cl call) (*resty.Response, error) {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		if c.refreshToken(ctx) {
			resp, err = c.send(ctx, cl)
			if err != nil {
				return nil, err
			}
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			c.tokens.Clear()
			msg, _ := parseError(resp.Body())
			c.metrics.RecordDirectoryError(cl.resource, cl.op, "unauthorized")
			return nil, &ServiceError{Code: http.StatusUnauthorized, Message: msg, Err: ErrUnauthorized}
		}
	}

	if resp.IsError() {
		err := c.classify(cl, resp)
		c.metrics.RecordDirectoryError(cl.resource, cl.op, errorKind(err))
		return nil, err
	}
	return resp, nil
}

// send performs a single attempt behind the limiter and breaker
func (c *Client) send(ctx context.Context, cl call) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Op: cl.op, Err: err}
	}

	timer := monitoring.NewTimer(c.metrics, cl.resource, cl.op)
	requestID := uuid.NewString()

	resp, err := resilience.Do(c.breaker, func() (*resty.Response, error) {
		req := c.resty.R().
			SetContext(ctx).
			SetHeader("X-Request-ID", requestID)
		if token := c.tokens.Token(); token != "" {
			req.SetHeader("Authorization", c.authorization(token))
		}
		if len(cl.query) > 0 {
			req.SetQueryParams(cl.query)
		}
		if cl.body != nil {
			raw, err := sonic.Marshal(cl.body)
			if err != nil {
				return nil, fmt.Errorf("encode %s body: %w", cl.op, err)
			}
			req.SetHeader("Content-Type", "application/json").SetBody(raw)
		}

		resp, err := req.Execute(cl.method, cl.path)
		if err != nil {
			return nil, &NetworkError{Op: cl.op, Err: err}
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			msg, _ := parseError(resp.Body())
			return resp, &ServiceError{Code: resp.StatusCode(), Message: msg}
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			err = &NetworkError{Op: cl.op, Err: err}
		}
		status := "error"
		if resp != nil {
			status = strconv.Itoa(resp.StatusCode())
		}
		elapsed := timer.Stop(status)
		c.metrics.RecordDirectoryError(cl.resource, cl.op, errorKind(err))
		c.log.Warn("directory call failed",
			zap.String("op", cl.op),
			zap.String("path", cl.path),
			zap.String("request_id", requestID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	elapsed := timer.Stop(strconv.Itoa(resp.StatusCode()))
	c.log.Debug("directory call",
		zap.String("op", cl.op),
		zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode()),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

// AuthHeader returns the Authorization header for the current token, for
// dialing the live channel with the same credentials
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if token := c.tokens.Token(); token != "" {
		header.Set("Authorization", c.authorization(token))
	}
	return header
}

func (c *Client) authorization(token string) string {
	if c.opts.AuthScheme == "" {
		return token
	}
	return c.opts.AuthScheme + " " + token
}

// refreshToken exchanges the refresh cookie for a new access token.
// Concurrent 401s share one refresh.
func (c *Client) refreshToken(ctx context.Context) bool {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		resp, err := c.send(ctx, call{
			resource: "auth",
			op:       "refresh",
			method:   http.MethodPost,
			path:     c.opts.RefreshPath,
		})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &ServiceError{Code: resp.StatusCode(), Err: ErrUnauthorized}
		}
		token := decodeAccessToken(resp.Body())
		if token == "" {
			return nil, &ServiceError{Code: http.StatusUnauthorized, Message: "no access token in refresh response", Err: ErrUnauthorized}
		}
		c.tokens.Set(token)
		return token, nil
	})
	if err != nil {
		c.log.Info("token refresh failed", zap.Error(err))
		return false
	}
	c.log.Debug("token refreshed")
	return true
}

func (c *Client) classify(cl call, resp *resty.Response) error {
	code := resp.StatusCode()
	msg, fields := parseError(resp.Body())

	switch {
	case code == http.StatusNotFound && cl.id != "":
		return &NotFoundError{Resource: cl.resource, ID: cl.id}
	case (code == http.StatusBadRequest || code == http.StatusUnprocessableEntity) && len(fields) > 0:
		return fields
	default:
		return &ServiceError{Code: code, Message: msg}
	}
}

func errorKind(err error) string {
	switch {
	case IsNetwork(err):
		return "network"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	if _, ok := AsValidation(err); ok {
		return "validation"
	}
	return "service"
}

// pageOf fills pagination defaults from the query when meta is missing
func pageOf[T any](records []T, m *meta, q types.Query) types.Page[T] {
	page := types.Page[T]{
		Records: records,
		Total:   len(records),
		Page:    q.Page,
		Limit:   q.Limit,
	}
	if page.Records == nil {
		page.Records = []T{}
	}
	if m != nil {
		if m.Total > 0 || len(records) == 0 {
			page.Total = m.Total
		}
		if m.Page > 0 {
			page.Page = m.Page
		}
		if m.Limit > 0 {
			page.Limit = m.Limit
		}
	}
	return page
}
