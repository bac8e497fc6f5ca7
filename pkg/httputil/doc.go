// Package httputil provides HTTP middleware for the permctl serve endpoints:
// request IDs, request logging and panic recovery.
//
//	router.Use(httputil.RequestID, httputil.Recovery(logger), httputil.Logging(logger))
package httputil
