// Package auth provides bearer-token authentication for the gateway API:
// a static API key for the producer runtime and HS256 JWTs for operators.
package auth
