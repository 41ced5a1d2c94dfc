package checkit

import (
	"net/url"

	"checkit/api/internal/review"
)

const (
	pathReviewablePublications = "publications"
	pathReadOnlyPublications   = "publications/read-only"
	pathClosedPublications     = "publications/closed"
	pathChangesReview          = "changes/review"
	pathCurrentUser            = "users/current"
)

func publicationPath(id string) string {
	return "publications/" + url.PathEscape(id)
}

func vocabularyChangesPath(publicationID string) string {
	return publicationPath(publicationID) + "/changes"
}

func changeResolvePath(changeID string, state review.ChangeState) string {
	return "changes/" + url.PathEscape(changeID) + "/review/" + url.PathEscape(string(state))
}

func clearReviewPath(changeID string) string {
	return "changes/" + url.PathEscape(changeID) + "/review"
}

func restrictionResolvePath(state review.ChangeState) string {
	return pathChangesReview + "/" + url.PathEscape(string(state))
}

func publicationResolvePath(publicationID string, approved bool) string {
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	return publicationPath(publicationID) + "/" + verdict
}
