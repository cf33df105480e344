// Package httpclient is the JSON/SSE HTTP client used by meshkit's remote
// adapters: the registry REST client, the config HTTP source, the refresh
// event stream and the invoke HTTP transport.
//
// Failures are classified into meshkit AppErrors:
//
//   - a response carrying the {"error":{...}} envelope is rebuilt as the
//     remote AppError (4xx) or wrapped in DOWNSTREAM_ERROR (5xx),
//   - a bare 404 becomes NOT_FOUND, other 4xx INVALID_INPUT,
//   - a bare 5xx or a connection failure becomes DOWNSTREAM_ERROR,
//   - an expired deadline becomes CALL_TIMEOUT.
//
//	c, _ := httpclient.New(httpclient.Config{Service: "registry", BaseURL: "http://localhost:8761"})
//	var out []registry.Instance
//	_, err := c.DoJSON(ctx, httpclient.Request{Method: http.MethodGet, Path: "/registry/users"}, &out)
package httpclient
