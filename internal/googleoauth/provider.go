package googleoauth

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"

	"github.com/florianilch/home-secrets/internal/apperror"
)

// invalidGrant is the OAuth2 error code for an unusable grant.
const invalidGrant = "invalid_grant"

// classifyTokenError turns a token endpoint failure into a caller-facing error.
// Provider answers are passed through verbatim. The result string tells
// invalid_grant apart from other provider errors.
func classifyTokenError(op string, err error) (string, *apperror.Error) {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return ResultUpstreamError, apperror.Wrap(apperror.KindUpstream, op+": token endpoint request failed", err)
	}

	body := strings.TrimSpace(string(retrieveErr.Body))
	if body == "" {
		body = retrieveErr.Error()
	}

	result := ResultProviderError
	if retrieveErr.ErrorCode == invalidGrant {
		result = ResultInvalidGrant
	}

	return result, &apperror.Error{
		Kind:    apperror.KindProvider,
		Message: op + ": " + body,
		Err:     err,
	}
}
