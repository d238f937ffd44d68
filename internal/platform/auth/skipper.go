package auth

// publicPaths lists route patterns reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":               true,
	"/health/ready":         true,
	"/api/auth/register":    true,
	"/api/auth/login":       true,
	"/api/auth/refresh":     true,
	"/api/payments/webhook": true,
}

// IsPublicPath reports whether the route pattern bypasses JWT auth.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
