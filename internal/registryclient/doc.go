// Package registryclient talks to a remote registrar over its REST endpoint.
//
// Workers use it to register themselves and to report job progress. Reads
// are retried on transport failures and server errors; mutations are sent
// once. Error responses map back onto the registry sentinel errors so
// callers can test them with errors.Is.
package registryclient
