// Package api is the HTTP surface of the service: the webhook endpoint, the
// manual trigger, job status and report retrieval, and a server-sent event
// stream of job lifecycle changes.
//
// Report files are served from the copy collected into the job store when a
// run finishes, so later runs overwriting the report directory never change
// what an earlier job returns.
package api
