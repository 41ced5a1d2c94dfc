// Package checkit is the transport client for the upstream review service.
// Every method takes the caller's session explicitly, validates the response
// against an embedded JSON schema and maps failures onto review error kinds.
package checkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"checkit/api/internal/review"
	"checkit/api/internal/session"
)

const maxResponseBytes = 8 << 20

// RemoteError describes a failed upstream call. Unwrap yields the error kind,
// so errors.Is(err, review.ErrStaleVersion) works on it.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Kind   error
	Err    error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Kind)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

func kindForStatus(status int) error {
	if status == http.StatusConflict || status == http.StatusPreconditionFailed {
		return review.ErrStaleVersion
	}
	return review.ErrTransportFailure
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	schemas schemaSet
	log     logrus.FieldLogger
}

func New(opts Options) (*Client, error) {
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", opts.BaseURL)
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/") + "/",
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		schemas: schemas,
		log:     logger.WithField("component", "checkit"),
	}, nil
}

func (c *Client) do(ctx context.Context, sess session.Session, op, method, path string, query url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RemoteError{Op: op, Kind: review.ErrTransportFailure, Err: err}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Kind: review.ErrTransportFailure, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Kind: review.ErrTransportFailure, Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"operation":   op,
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("upstream request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Body: string(raw), Kind: kindForStatus(resp.StatusCode)}
	}
	return raw, nil
}

func (c *Client) ReviewablePublications(ctx context.Context, sess session.Session) ([]review.PublicationContext, error) {
	return c.publicationList(ctx, sess, "reviewablePublications", pathReviewablePublications, nil)
}

func (c *Client) ReadOnlyPublications(ctx context.Context, sess session.Session) ([]review.PublicationContext, error) {
	return c.publicationList(ctx, sess, "readOnlyPublications", pathReadOnlyPublications, nil)
}

// RelevantPublications lists reviewable publications first, then read-only
// ones, with Reviewable set accordingly.
func (c *Client) RelevantPublications(ctx context.Context, sess session.Session) ([]review.PublicationContext, error) {
	reviewable, err := c.ReviewablePublications(ctx, sess)
	if err != nil {
		return nil, err
	}
	readOnly, err := c.ReadOnlyPublications(ctx, sess)
	if err != nil {
		return nil, err
	}
	all := make([]review.PublicationContext, 0, len(reviewable)+len(readOnly))
	for _, p := range reviewable {
		p.Reviewable = true
		all = append(all, p)
	}
	for _, p := range readOnly {
		p.Reviewable = false
		all = append(all, p)
	}
	return all, nil
}

func (c *Client) ClosedPublications(ctx context.Context, sess session.Session, page int) ([]review.PublicationContext, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("pageNumber", strconv.Itoa(page))
	}
	return c.publicationList(ctx, sess, "closedPublications", pathClosedPublications, query)
}

func (c *Client) publicationList(ctx context.Context, sess session.Session, op, path string, query url.Values) ([]review.PublicationContext, error) {
	raw, err := c.do(ctx, sess, op, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	var rows []review.PublicationContext
	if err := c.schemas.decode(schemaPublicationList, raw, &rows); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rows == nil {
		rows = []review.PublicationContext{}
	}
	return rows, nil
}

func (c *Client) Publication(ctx context.Context, sess session.Session, id string) (review.Publication, error) {
	raw, err := c.do(ctx, sess, "publication", http.MethodGet, publicationPath(id), nil, nil)
	if err != nil {
		return review.Publication{}, err
	}
	var publication review.Publication
	if err := c.schemas.decode(schemaPublication, raw, &publication); err != nil {
		return review.Publication{}, fmt.Errorf("publication %s: %w", id, err)
	}
	return publication, nil
}

// VocabularyChanges fetches and normalizes the changes of one vocabulary in a
// publication. A payload that fails validation or normalization is refused as
// a whole.
func (c *Client) VocabularyChanges(ctx context.Context, sess session.Session, publicationID, vocabularyURI string) (review.VocabularyChanges, error) {
	query := url.Values{"vocabularyUri": []string{vocabularyURI}}
	raw, err := c.do(ctx, sess, "vocabularyChanges", http.MethodGet, vocabularyChangesPath(publicationID), query, nil)
	if err != nil {
		return review.VocabularyChanges{}, err
	}
	var vc review.VocabularyChanges
	if err := c.schemas.decode(schemaVocabularyChanges, raw, &vc); err != nil {
		return review.VocabularyChanges{}, fmt.Errorf("vocabulary changes %s/%s: %w", publicationID, vocabularyURI, err)
	}
	if vc.Changes == nil {
		vc.Changes = []review.Change{}
	}
	if err := review.Normalize(&vc, publicationID); err != nil {
		return review.VocabularyChanges{}, fmt.Errorf("vocabulary changes %s/%s: %w", publicationID, vocabularyURI, err)
	}
	return vc, nil
}

func versionQuery(versionDate string) url.Values {
	query := url.Values{}
	if versionDate != "" {
		query.Set("versionDate", versionDate)
	}
	return query
}

// ResolveChange moves a single change to APPROVED or REJECTED. A decline
// message, when present, is sent as the JSON string body.
func (c *Client) ResolveChange(ctx context.Context, sess session.Session, changeID string, state review.ChangeState, versionDate, declineMessage string) (review.Change, error) {
	var body any
	if declineMessage != "" {
		body = declineMessage
	}
	raw, err := c.do(ctx, sess, string(review.OpResolve), http.MethodPost, changeResolvePath(changeID, state), versionQuery(versionDate), body)
	if err != nil {
		return review.Change{}, err
	}
	return c.changeResult(string(review.OpResolve), raw)
}

func (c *Client) ClearReview(ctx context.Context, sess session.Session, changeID, versionDate string) (review.Change, error) {
	raw, err := c.do(ctx, sess, string(review.OpClearReview), http.MethodDelete, clearReviewPath(changeID), versionQuery(versionDate), nil)
	if err != nil {
		return review.Change{}, err
	}
	return c.changeResult(string(review.OpClearReview), raw)
}

func (c *Client) ResolveRestriction(ctx context.Context, sess session.Session, affectedURIs []string, state review.ChangeState, versionDate string) (review.Change, error) {
	if len(affectedURIs) == 0 {
		return review.Change{}, fmt.Errorf("%s: no affected changes: %w", review.OpResolveRestriction, review.ErrMalformedRestriction)
	}
	raw, err := c.do(ctx, sess, string(review.OpResolveRestriction), http.MethodPost, restrictionResolvePath(state), versionQuery(versionDate), affectedURIs)
	if err != nil {
		return review.Change{}, err
	}
	return c.changeResult(string(review.OpResolveRestriction), raw)
}

func (c *Client) ClearRestriction(ctx context.Context, sess session.Session, affectedURIs []string, versionDate string) (review.Change, error) {
	if len(affectedURIs) == 0 {
		return review.Change{}, fmt.Errorf("%s: no affected changes: %w", review.OpClearRestriction, review.ErrMalformedRestriction)
	}
	raw, err := c.do(ctx, sess, string(review.OpClearRestriction), http.MethodDelete, pathChangesReview, versionQuery(versionDate), affectedURIs)
	if err != nil {
		return review.Change{}, err
	}
	return c.changeResult(string(review.OpClearRestriction), raw)
}

// changeResult tolerates an empty body; the cached patch stays authoritative
// until the next refetch either way.
func (c *Client) changeResult(op string, raw []byte) (review.Change, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return review.Change{}, nil
	}
	var change review.Change
	if err := c.schemas.decode(schemaChange, raw, &change); err != nil {
		return review.Change{}, fmt.Errorf("%s: %w", op, err)
	}
	return change, nil
}

func (c *Client) ResolvePublication(ctx context.Context, sess session.Session, publicationID string, approved bool, closingComment string) (review.Publication, error) {
	raw, err := c.do(ctx, sess, "resolvePublication", http.MethodPost, publicationResolvePath(publicationID, approved), nil, closingComment)
	if err != nil {
		return review.Publication{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return review.Publication{}, nil
	}
	var publication review.Publication
	if err := c.schemas.decode(schemaPublication, raw, &publication); err != nil {
		return review.Publication{}, fmt.Errorf("resolve publication %s: %w", publicationID, err)
	}
	return publication, nil
}

func (c *Client) CurrentUser(ctx context.Context, sess session.Session) (session.User, error) {
	raw, err := c.do(ctx, sess, "currentUser", http.MethodGet, pathCurrentUser, nil, nil)
	if err != nil {
		return session.User{}, err
	}
	var user session.User
	if err := c.schemas.decode(schemaUser, raw, &user); err != nil {
		return session.User{}, fmt.Errorf("current user: %w", err)
	}
	return user, nil
}

// Status extracts the upstream HTTP status from err, or 0.
func Status(err error) int {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Status
	}
	return 0
}
