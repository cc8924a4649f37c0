// Package api contains the HTTP handlers for the task endpoints.
package api
