package app

import (
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

	"checkit/api/internal/cache"
	"checkit/api/internal/rbac"
	"checkit/api/internal/review"
	"checkit/api/internal/search"
	"checkit/api/internal/session"
	"checkit/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string, logger logrus.FieldLogger) *HTTPServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.Metrics().Handler().ServeHTTP(w, r)
		return
	}

	parts, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error(), nil)
		return
	}
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "session":
		s.handleSession(w, r, sess, parts[2:])
	case "publications":
		s.handlePublications(w, r, sess, parts[2:])
	case "search":
		s.handleSearch(w, r, sess, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 0:
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.User.ID,
			"userName":      sess.User.DisplayName(),
			"role":          sess.User.Role(),
		})
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "logout":
		if err := s.service.Logout(r.Context(), sess.Token); err != nil {
			s.log.WithError(err).Warn("logout failed")
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handlePublications(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	role := rbac.Normalize(sess.User.Role())

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		rows, err := s.service.RelevantPublications(r.Context(), sess)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
		return
	}

	if len(parts) == 1 && parts[0] == "closed" && r.Method == http.MethodGet {
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		rows, err := s.service.ClosedPublications(r.Context(), sess, page)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows, "pageNumber": page})
		return
	}

	publicationID := parts[0]
	rest := parts[1:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		publication, err := s.service.Publication(r.Context(), sess, publicationID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, publication)

	case len(rest) == 1 && rest[0] == "summary" && r.Method == http.MethodGet:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		summary, err := s.service.PublicationSummary(r.Context(), sess, publicationID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	case len(rest) == 1 && rest[0] == "review-log" && r.Method == http.MethodGet:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.ReviewLog(r.Context(), publicationID, r.URL.Query().Get("vocabularyUri"), limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})

	case len(rest) == 1 && (rest[0] == "approve" || rest[0] == "reject") && r.Method == http.MethodPost:
		if !s.allow(w, role, rbac.ActionPublish) {
			return
		}
		var body struct {
			ClosingComment string `json:"closingComment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		publication, err := s.service.ResolvePublication(r.Context(), sess, publicationID, rest[0] == "approve", body.ClosingComment)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, publication)

	case len(rest) >= 1 && rest[0] == "changes":
		s.handleChanges(w, r, sess, role, publicationID, rest[1:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleChanges(w http.ResponseWriter, r *http.Request, sess session.Session, role rbac.Role, publicationID string, parts []string) {
	vocabularyURI := strings.TrimSpace(r.URL.Query().Get("vocabularyUri"))
	if vocabularyURI == "" {
		s.fail(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "vocabularyUri is required", nil))
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		view, err := s.service.ChangeList(r.Context(), sess, publicationID, vocabularyURI)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if fingerprint, err := cache.Fingerprint(view); err == nil {
			etag := fmt.Sprintf(`"%x"`, fingerprint)
			w.Header().Set("ETag", etag)
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		s.service.Refresh(publicationID, vocabularyURI)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && r.Method == http.MethodGet:
		if !s.allow(w, role, rbac.ActionRead) {
			return
		}
		view, err := s.service.Change(r.Context(), sess, publicationID, vocabularyURI, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost:
		if !s.allow(w, role, rbac.ActionReview) {
			return
		}
		var body struct {
			State          string `json:"state"`
			DeclineMessage string `json:"declineMessage"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		target := review.ChangeState(strings.ToUpper(strings.TrimSpace(body.State)))
		if target != review.StateApproved && target != review.StateRejected {
			s.fail(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "state must be APPROVED or REJECTED", map[string]any{"state": body.State}))
			return
		}
		s.dispatch(w, r, sess, TransitionRequest{
			PublicationID:  publicationID,
			VocabularyURI:  vocabularyURI,
			ChangeID:       parts[0],
			Target:         target,
			DeclineMessage: body.DeclineMessage,
		})

	case len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodDelete:
		if !s.allow(w, role, rbac.ActionReview) {
			return
		}
		s.dispatch(w, r, sess, TransitionRequest{
			PublicationID: publicationID,
			VocabularyURI: vocabularyURI,
			ChangeID:      parts[0],
			Target:        review.StateNotReviewed,
		})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// dispatch answers 202 with the optimistic state, or waits for settlement
// when the caller passes wait=true.
func (s *HTTPServer) dispatch(w http.ResponseWriter, r *http.Request, sess session.Session, req TransitionRequest) {
	action, err := s.service.Dispatch(r.Context(), sess, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := action.Wait(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	view, err := s.service.Change(r.Context(), sess, req.PublicationID, req.VocabularyURI, req.ChangeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if action.Pending() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"actionId":  action.ID,
		"operation": action.Transition.Op,
		"pending":   action.Pending(),
		"change":    view.Change,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	if len(parts) != 1 || parts[0] != "changes" || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if !s.allow(w, rbac.Normalize(sess.User.Role()), rbac.ActionRead) {
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.SearchChanges(search.Query{
		Text:          query.Get("q"),
		PublicationID: query.Get("publicationId"),
		VocabularyURI: query.Get("vocabularyUri"),
		State:         review.ChangeState(strings.ToUpper(query.Get("state"))),
		Limit:         limit,
		Offset:        offset,
	}))
}

func (s *HTTPServer) allow(w http.ResponseWriter, role rbac.Role, action rbac.Action) bool {
	if rbac.Can(role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
	return false
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"request_id": requestIDFrom(r.Context()),
		"code":       code,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request refused")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	token := session.BearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return session.Session{}, false
	}
	sess, err := s.service.ResolveSession(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return session.Session{}, false
		}
		s.fail(w, r, err)
		return session.Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, If-None-Match")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// splitPath splits an escaped path and unescapes each segment, so change ids
// such as grouped/... travel as a single %2F-encoded segment.
func splitPath(escaped string) ([]string, error) {
	trimmed := strings.Trim(escaped, "/")
	if trimmed == "" {
		return nil, nil
	}
	raw := strings.Split(trimmed, "/")
	parts := make([]string, 0, len(raw))
	for _, segment := range raw {
		unescaped, err := url.PathUnescape(segment)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q", segment)
		}
		parts = append(parts, unescaped)
	}
	return parts, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	kind := map[string]any{"kind": review.Kind(err)}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, review.ErrStaleVersion):
		return http.StatusConflict, "STALE_VERSION", "The publication changed since it was loaded; refresh and try again", kind
	case errors.Is(err, review.ErrTransitionPending):
		return http.StatusConflict, "TRANSITION_PENDING", "A transition on this change is still in flight", kind
	case errors.Is(err, review.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED", "The change is read-only or its vocabulary is not gestored by you", kind
	case errors.Is(err, review.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "INVALID_TRANSITION", "The requested review transition is not allowed", kind
	case errors.Is(err, review.ErrChangeNotFound), errors.Is(err, cache.ErrNotCached):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, review.ErrMalformedRestriction), errors.Is(err, review.ErrMalformedPayload):
		return http.StatusBadGateway, "MALFORMED_UPSTREAM_DATA", "Upstream returned malformed data", kind
	case errors.Is(err, review.ErrTransportFailure):
		return http.StatusBadGateway, "UPSTREAM_FAILURE", "Upstream request failed", kind
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
