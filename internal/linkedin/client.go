// Package linkedin publishes content pieces to the LinkedIn Posts API.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/ashureev/campaign-center/internal/domain"
)

const (
	// DefaultAPIURL is the LinkedIn API host.
	DefaultAPIURL = "https://api.linkedin.com"

	// MaxPostLength is the LinkedIn commentary limit in characters.
	MaxPostLength = 3000

	apiVersion      = "202401"
	restliProtocol  = "2.0.0"
	userinfoPath    = "/v2/userinfo"
	postsPath       = "/rest/posts"
	personURNPrefix = "urn:li:person:"

	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	maxErrorBody       = 512
)

// Publish outcomes reported to the Recorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeRefreshed = "refreshed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Recorder receives publish telemetry.
type Recorder interface {
	PublishOutcome(outcome string)
	CredentialRefresh(success bool)
}

type nopRecorder struct{}

func (nopRecorder) PublishOutcome(string)  {}
func (nopRecorder) CredentialRefresh(bool) {}

// Config holds client settings.
type Config struct {
	APIURL      string
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	Recorder    Recorder
}

// Client publishes posts on behalf of the configured member.
type Client struct {
	creds       *Credentials
	httpClient  *http.Client
	apiURL      string
	maxAttempts int
	baseDelay   time.Duration
	recorder    Recorder
	logger      *slog.Logger
}

// NewClient creates a publish client backed by creds.
func NewClient(cfg Config, creds *Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		creds:       creds,
		httpClient:  cfg.HTTPClient,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		recorder:    cfg.Recorder,
		logger:      logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// Configured reports whether an access token is available.
func (c *Client) Configured() bool {
	return c.creds.AccessToken() != ""
}

// errPermanent marks failures that must not be retried.
var errPermanent = errors.New("permanent publish failure")

// errUnauthorized is returned for a 401 once a refresh was already spent.
var errUnauthorized = errors.New("unauthorized")

// StatusError is a non-success HTTP response from LinkedIn.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("linkedin %s: status %d: %s", e.Op, e.Status, e.Body)
}

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// publishCall carries the per-piece state across attempts.
type publishCall struct {
	piece     *domain.ContentPiece
	text      string
	state     State
	attempts  int
	refreshed bool
}

// Publish posts piece to LinkedIn. It returns true and marks the piece
// published only when LinkedIn accepted the post.
func (c *Client) Publish(ctx context.Context, piece *domain.ContentPiece) bool {
	if !c.Configured() {
		c.logger.Warn("LinkedIn access token not set, skipping publish", "platform", piece.Platform)
		c.recorder.PublishOutcome(OutcomeSkipped)
		return false
	}

	call := &publishCall{
		piece: piece,
		text:  ComposeText(piece.Content, piece.Hashtags),
		state: StateIdle,
	}

	policy := retrypolicy.NewBuilder[int]().
		HandleIf(func(_ int, err error) bool { return err != nil }).
		AbortIf(func(_ int, err error) bool { return errors.Is(err, errPermanent) }).
		WithMaxAttempts(c.maxAttempts).
		WithBackoff(c.baseDelay, c.maxDelay()).
		Build()

	_, err := failsafe.With(policy).WithContext(ctx).Get(func() (int, error) {
		call.attempts++
		c.transition(call, StateAttempting)
		status, err := c.attempt(ctx, call)
		if err != nil && !errors.Is(err, errPermanent) && call.attempts < c.maxAttempts {
			c.transition(call, StateRetrying)
			c.recorder.PublishOutcome(OutcomeRetried)
			c.logger.Warn("LinkedIn publish attempt failed, retrying", "attempt", call.attempts, "status", status, "error", err)
		}
		return status, err
	})
	if err != nil {
		c.transition(call, StatePermanentlyFailed)
		c.recorder.PublishOutcome(OutcomeFailed)
		c.logger.Error("LinkedIn publish failed", "attempts", call.attempts, "error", err)
		return false
	}

	c.transition(call, StateSucceeded)
	c.recorder.PublishOutcome(OutcomeSucceeded)
	piece.Published = true
	return true
}

// attempt performs one counted publish attempt. A 401 refresh and re-post
// happens inside the same attempt.
func (c *Client) attempt(ctx context.Context, call *publishCall) (int, error) {
	token := c.creds.AccessToken()

	author, err := c.resolveAuthor(ctx, token)
	if err != nil {
		return 0, permanent(fmt.Errorf("resolve author: %w", err))
	}

	status, body, err := c.post(ctx, token, author, call.text)
	if err != nil {
		return 0, err
	}

	switch {
	case status >= 200 && status < 300:
		return status, nil
	case status == http.StatusUnauthorized:
		if call.refreshed {
			return status, fmt.Errorf("%w: %w", errUnauthorized, &StatusError{Op: "create post", Status: status, Body: body})
		}
		call.refreshed = true
		c.transition(call, StateRefreshingCredential)
		if err := c.creds.Refresh(ctx, token); err != nil {
			c.recorder.CredentialRefresh(false)
			return status, permanent(err)
		}
		c.recorder.CredentialRefresh(true)
		c.recorder.PublishOutcome(OutcomeRefreshed)
		c.transition(call, StateAttempting)
		return c.attempt(ctx, call)
	case status == http.StatusForbidden:
		return status, permanent(&StatusError{Op: "create post", Status: status, Body: body})
	default:
		return status, &StatusError{Op: "create post", Status: status, Body: body}
	}
}

// maxDelay caps the backoff at the delay before the final attempt.
func (c *Client) maxDelay() time.Duration {
	d := c.baseDelay
	for i := 2; i < c.maxAttempts; i++ {
		d *= 2
	}
	return d
}

func (c *Client) transition(call *publishCall, next State) {
	if call.state == next {
		return
	}
	c.logger.Debug("LinkedIn publish state change",
		"platform", call.piece.Platform,
		"from", call.state.String(),
		"to", next.String(),
		"attempt", call.attempts,
	)
	call.state = next
}

// resolveAuthor returns the member URN for token, using the cache when the
// token has not changed since it was resolved.
func (c *Client) resolveAuthor(ctx context.Context, token string) (string, error) {
	if urn, ok := c.creds.Author(token); ok {
		return urn, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+userinfoPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "userinfo", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return "", errors.New("userinfo response has no sub")
	}

	urn := personURNPrefix + info.Sub
	c.creds.CacheAuthor(token, urn)
	return urn, nil
}

type postDistribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

type postRequest struct {
	Author         string           `json:"author"`
	Commentary     string           `json:"commentary"`
	Visibility     string           `json:"visibility"`
	Distribution   postDistribution `json:"distribution"`
	LifecycleState string           `json:"lifecycleState"`
}

func newPostRequest(author, text string) postRequest {
	return postRequest{
		Author:     author,
		Commentary: text,
		Visibility: "PUBLIC",
		Distribution: postDistribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState: "PUBLISHED",
	}
}

func (c *Client) post(ctx context.Context, token, author, text string) (int, string, error) {
	payload, err := json.Marshal(newPostRequest(author, text))
	if err != nil {
		return 0, "", permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+postsPath, bytes.NewReader(payload))
	if err != nil {
		return 0, "", permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", apiVersion)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocol)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("create post: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, readBody(resp.Body), nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(b)
}

// ComposeText appends the hashtag trailer and truncates the result to
// MaxPostLength characters.
func ComposeText(content string, hashtags []string) string {
	text := content
	if len(hashtags) > 0 {
		tags := make([]string, len(hashtags))
		for i, h := range hashtags {
			tags[i] = "#" + strings.TrimPrefix(h, "#")
		}
		text += "\n\n" + strings.Join(tags, " ")
	}
	return Truncate(text, MaxPostLength)
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
