// Package security builds the configuration posture report exposed by
// Engine.SecurityReport.
package security
