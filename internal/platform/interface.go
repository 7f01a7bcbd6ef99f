package platform

import "context"

// PostInput is what the publishing pipeline hands to a platform.
type PostInput struct {
	ProfileID string   `json:"profileId"`
	Platform  string   `json:"platform"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"mediaUrls"`
}

// PostResult is the outcome of one publish call. Transient marks failures
// that are worth retrying, such as timeouts and 5xx responses.
type PostResult struct {
	OK        bool
	RemoteID  string
	Error     string
	Transient bool
}

// Adapter publishes a post to one destination platform.
type Adapter interface {
	Post(ctx context.Context, in PostInput) PostResult
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, in PostInput) PostResult

func (f AdapterFunc) Post(ctx context.Context, in PostInput) PostResult {
	return f(ctx, in)
}

// Failed builds a failed result.
func Failed(msg string, transient bool) PostResult {
	return PostResult{OK: false, Error: msg, Transient: transient}
}
