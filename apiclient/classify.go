package apiclient

import "net/http"

// FailureKind is the routing class of a completed call.
type FailureKind int

const (
	NoFailure FailureKind = iota
	NetworkFailure
	ExpiryFailure
	ClientFailure
	ServerFailure
)

func (k FailureKind) String() string {
	switch k {
	case NoFailure:
		return "ok"
	case NetworkFailure:
		return "network failure"
	case ExpiryFailure:
		return "session expired"
	case ClientFailure:
		return "client failure"
	case ServerFailure:
		return "server failure"
	default:
		return "unknown"
	}
}

// Failure is the outcome of Classify.
type Failure struct {
	Kind       FailureKind
	StatusCode int
}

// Classify maps a dispatch outcome to its failure class. Only a first 401 is
// an ExpiryFailure; a 401 on an already retried request is a ClientFailure so
// recovery is attempted at most once.
func Classify(resp *Response, err error, retried bool) Failure {
	if resp == nil {
		return Failure{Kind: NetworkFailure}
	}

	code := resp.StatusCode
	switch {
	case code == http.StatusUnauthorized && !retried:
		return Failure{Kind: ExpiryFailure, StatusCode: code}
	case code >= 500:
		return Failure{Kind: ServerFailure, StatusCode: code}
	case code >= 400:
		return Failure{Kind: ClientFailure, StatusCode: code}
	case err != nil:
		return Failure{Kind: NetworkFailure, StatusCode: code}
	default:
		return Failure{Kind: NoFailure, StatusCode: code}
	}
}
