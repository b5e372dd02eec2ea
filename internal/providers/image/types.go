package image

import "context"

// Request describes one image generation call. ReferenceURLs carry durable
// character-sheet images so scene frames stay visually consistent.
type Request struct {
	Prompt        string
	AspectRatio   string
	ReferenceURLs []string
	RequestID     string
}

// Result is the outcome of one generation call. Exactly one of Data or URL
// is set: inline bytes or an ephemeral provider URL.
type Result struct {
	Data   []byte
	URL    string
	Format string
}

// Generator performs one image generation call against a provider.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
