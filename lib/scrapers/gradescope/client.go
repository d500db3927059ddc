package gradescope

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"gsexport/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const BaseURL = "https://www.gradescope.com"

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/39.0.2171.95 Safari/537.36"

// Session is the pair of pre-obtained authentication cookies attached to
// every request. There is no refresh flow, stale cookies surface as ErrAuth.
type Session struct {
	// value of the _gradescope_session cookie
	Cookie string
	// value of the signed_token cookie
	Token string
}

// RetryPolicy bounds the transient-failure retry behavior of a Client.
// Waits between attempts grow exponentially with jitter up to WaitMax.
type RetryPolicy struct {
	Attempts int
	WaitMin  time.Duration
	WaitMax  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 4,
		WaitMin:  time.Millisecond * 500,
		WaitMax:  time.Second * 10,
	}
}

type ClientOptions struct {
	// defaults to BaseURL
	BaseUrl string
	Session Session
	// zero value means DefaultRetryPolicy
	Retry RetryPolicy
	// per-attempt timeout, defaults to 30s
	Timeout time.Duration
	// sustained request pacing against the host, defaults to 2/s
	RequestsPerSecond float64
}

// Client wraps all HTTP access to gradescope. It owns the session cookies,
// paces requests and retries transient failures; it holds no other state.
type Client struct {
	BaseUrl *url.URL
	http    *resty.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = BaseURL
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)

	// the jar scopes the session cookies to the gradescope host, download
	// urls redirect to upload buckets on other domains which must never
	// see them
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(baseUrl, []*http.Cookie{
		{Name: "_gradescope_session", Value: opts.Session.Cookie},
		{Name: "signed_token", Value: opts.Session.Token},
	})
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	client.SetRetryCount(opts.Retry.Attempts)
	client.SetRetryWaitTime(opts.Retry.WaitMin)
	client.SetRetryMaxWaitTime(opts.Retry.WaitMax)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res != nil && res.StatusCode() >= 500
	})

	// max burst >= sustained rate just means no request is ever dropped
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/gradescope/http")

	return &Client{
		BaseUrl: baseUrl,
		http:    client,
	}, nil
}

// GetPage fetches a discovery page and returns its body. Transient failures
// are retried per the client's retry policy before an error is returned.
func (c *Client) GetPage(ctx context.Context, path string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	if err := classifyStatus(res.StatusCode(), res.Request.URL); err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// Download fetches a file body as a stream. The caller must close the
// returned reader. The reported size is -1 when the server does not send a
// content length.
//
// Download urls are often presigned links on upload buckets that 403 once
// the signature expires, so unlike GetPage no status here is ever taken
// as a session-auth signal; the buckets never see the cookies anyway.
func (c *Client) Download(ctx context.Context, rawUrl string) (io.ReadCloser, int64, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawUrl)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", rawUrl, err)
	}
	body := res.RawBody()
	if code := res.StatusCode(); code < 200 || code > 299 {
		body.Close()
		return nil, 0, &StatusError{Code: code, URL: res.Request.URL}
	}
	return body, res.RawResponse.ContentLength, nil
}

// classifyStatus interprets discovery page statuses, where a 401/403 can
// only mean the session cookies were rejected.
func classifyStatus(code int, requestUrl string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", requestUrl, ErrAuth)
	case code < 200 || code > 299:
		return &StatusError{Code: code, URL: requestUrl}
	}
	return nil
}
