// Package httpclient builds the single HTTP client shared by every worker of
// a ptload run.
//
// The client is tuned for load generation: a keep-alive pool sized to the
// worker count, bounded dial and TLS handshake timeouts, and a cookie jar so
// the session cookie obtained at login is replayed on every request.
//
//	client := httpclient.NewClient(httpclient.Options{
//		Timeout:          30 * time.Second,
//		IdleConnsPerHost: cfg.NumWorkers,
//	})
//
// Setting [Options.H2C] switches to an HTTP/2 prior-knowledge transport for
// cleartext targets that speak h2c.
package httpclient
