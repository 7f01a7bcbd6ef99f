package platform

import "context"

// Unsupported fails every post. It stands in for platforms without a
// configured adapter.
type Unsupported struct {
	platform string
}

func NewUnsupported(platform string) *Unsupported {
	return &Unsupported{platform: platform}
}

func (u *Unsupported) Post(_ context.Context, _ PostInput) PostResult {
	return Failed(u.platform+" adapter not configured", false)
}
