package controllers

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP determines the caller's address. Proxy headers (Cloudflare
// first, then the first X-Forwarded-For hop) are only honored when the
// service runs behind a trusted proxy; otherwise anyone could pick the
// address the signup throttle sees.
func GetClientIP(c *fiber.Ctx, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := validIP(c.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := validIP(first); ip != "" {
				return ip
			}
		}
		if ip := validIP(c.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return c.IP()
}

func validIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || net.ParseIP(raw) == nil {
		return ""
	}
	return raw
}

func errorResponse(c *fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
