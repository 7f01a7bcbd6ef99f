package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gigster/internal/pkg/httpclient"
)

// Relay posts through an HTTP publishing relay at POST /{platform}/posts.
type Relay struct {
	platform string
	client   *httpclient.Client
}

func NewRelay(platform string, client *httpclient.Client) *Relay {
	return &Relay{platform: platform, client: client}
}

type relayResponse struct {
	OK       bool   `json:"ok"`
	RemoteID string `json:"remoteId"`
	Error    string `json:"error"`
}

func (r *Relay) Post(ctx context.Context, in PostInput) PostResult {
	in.Platform = r.platform
	var out relayResponse
	resp, err := r.client.PostJSON(ctx, "/"+r.platform+"/posts", in, &out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Failed("relay call cancelled", true)
		}
		return Failed(fmt.Sprintf("relay request failed: %v", err), true)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if !out.OK {
			msg := out.Error
			if msg == "" {
				msg = "relay rejected post"
			}
			return Failed(msg, false)
		}
		return PostResult{OK: true, RemoteID: out.RemoteID}
	case status == http.StatusTooManyRequests || status >= 500:
		return Failed(fmt.Sprintf("relay returned %d: %s", status, snippet(resp.String())), true)
	default:
		return Failed(fmt.Sprintf("relay returned %d: %s", status, snippet(resp.String())), false)
	}
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		return body[:200]
	}
	return body
}
