package proxy

import (
	"github.com/gofiber/fiber/v2"
)

// fallbackImage is a 1x1 transparent PNG served when an image with a known
// cache ID cannot be fetched.
const fallbackImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// handleProxyImage fetches an image on the client's behalf and answers with
// its data-URI as text/plain.
func (p *Proxy) handleProxyImage(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	cacheID := c.Query("cacheId")

	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing URL parameter"})
	}

	ctx, cancel := p.requestContext()
	defer cancel()

	dataURI, err := p.resolver.ResolveURL(ctx, rawURL)
	if err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
		c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
		return c.SendString(dataURI)
	}

	p.logger.Warn("proxy image fetch failed",
		"url", rawURL,
		"cache_id", cacheID,
		"error", err,
	)

	if cacheID != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
		return c.SendString(fallbackImage)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to proxy image"})
}
