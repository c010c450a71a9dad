package content

import (
	"context"
	"errors"
	"strings"

	"github.com/papercomputeco/relay/pkg/llm"
)

const (
	// NoValidImageWarning prefixes vision requests whose images all failed.
	NoValidImageWarning = "warning: the image could not be loaded. check that the image URL is valid or try a different image."

	// EmptyContentMessage replaces multimodal content left with nothing usable.
	EmptyContentMessage = "please provide a valid image or question."
)

var errInvalidImageFormat = errors.New("invalid image format")

// embeddableTypes are the data-URI prefixes upstream accepts for fetched images.
var embeddableTypes = []string{
	"data:image/jpeg",
	"data:image/png",
	"data:image/gif",
}

// Normalize is the relay server's rewrite of multimodal content before it is
// forwarded upstream. Remote images are fetched (through the cache) and kept
// only when they decode to a jpeg, png, or gif data-URI; failures become text
// notes. The surviving text parts are joined with a blank line and placed
// ahead of the images.
//
// For vision models a message whose images all failed becomes a single text
// part carrying NoValidImageWarning. For other models such a message collapses
// to plain text, or to EmptyContentMessage when nothing is left.
func (r *Resolver) Normalize(ctx context.Context, c llm.Content, visionModel bool) llm.Content {
	parts, ok := c.(llm.PartSequence)
	if !ok {
		return c
	}

	var (
		texts []string
		valid llm.PartSequence
	)
	for _, p := range parts {
		switch {
		case p.Type == llm.PartText:
			if p.Text != "" {
				texts = append(texts, p.Text)
			}

		case p.Type == llm.PartImageURL && p.IsImage():
			u := p.ImageURL.URL
			if IsDataURI(u) {
				valid = append(valid, p)
				continue
			}

			resolved, err := r.fetchEmbeddable(ctx, u)
			if err != nil {
				r.metrics.ImageFailures.Add(ctx, 1)
				r.logger.Warn("failed to proxy image", "url", u, "error", err)
				texts = append(texts, FailureNote(u, err))
				continue
			}
			valid = append(valid, llm.ImagePart(resolved))

		case p.Type == llm.PartImageURL:
			// Image part without a URL carries nothing to forward.

		default:
			valid = append(valid, p)
		}
	}

	joined := strings.Join(texts, "\n\n")

	if len(valid) > 0 {
		out := make(llm.PartSequence, 0, len(valid)+1)
		if strings.TrimSpace(joined) != "" {
			out = append(out, llm.TextPart(joined))
		}
		return append(out, valid...)
	}

	if visionModel {
		text := NoValidImageWarning
		if len(texts) > 0 {
			text += "\n\n" + joined
		}
		return llm.PartSequence{llm.TextPart(text)}
	}

	if len(texts) > 0 {
		return llm.PlainText(joined)
	}
	return llm.PlainText(EmptyContentMessage)
}

func (r *Resolver) fetchEmbeddable(ctx context.Context, rawURL string) (string, error) {
	if v, ok := r.cached(ctx, rawURL); ok {
		return v, nil
	}

	v, err := r.fetcher.FetchDataURI(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if !isEmbeddable(v) {
		return "", errInvalidImageFormat
	}

	r.store(ctx, rawURL, v)
	return v, nil
}

func isEmbeddable(dataURI string) bool {
	for _, prefix := range embeddableTypes {
		if strings.HasPrefix(dataURI, prefix) {
			return true
		}
	}
	return false
}
