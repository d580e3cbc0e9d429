package edge

// RewriteHost copies the client-facing Host into x-original-host so the
// origin can still see it after the CDN swaps Host for the origin's own
// hostname. Host itself is left alone. Requests without a Host pass through.
func RewriteHost(req Request) Request {
	host := req.Host()
	if host == "" {
		return req
	}
	out := req.clone()
	out.Headers.Set(HeaderOriginalHost, host)
	return out
}
