package query

import (
	"encoding/base64"
	"encoding/json"

	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

// ContinuationToken is the opaque cursor returned with every non-final page.
// The embedded query text is authoritative on continuation requests.
type ContinuationToken struct {
	Query     string `json:"query"`
	RowNumber int    `json:"rowNumber"`
}

// Encode serializes the token to its opaque wire form.
func (t *ContinuationToken) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", exception.NewValidationError("ContinuationToken", "failed to encode continuation token", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeContinuationToken parses an opaque token back into its state. A token
// that does not decode, or decodes without a query, is a validation error.
func DecodeContinuationToken(token string) (*ContinuationToken, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, exception.NewValidationError("ContinuationToken", "continuation token is not valid base64", err)
	}
	var t ContinuationToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, exception.NewValidationError("ContinuationToken", "continuation token is not valid JSON", err)
	}
	if t.Query == "" {
		return nil, exception.NewValidationError("ContinuationToken", "continuation token carries no query", nil)
	}
	if t.RowNumber < 0 {
		return nil, exception.NewValidationError("ContinuationToken", "continuation token carries a negative row number", nil)
	}
	return &t, nil
}
