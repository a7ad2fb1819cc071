// Package security derives a security posture report from the engine configuration.
//
// The report is read-only and computed once per call. It never touches a backend.
package security
