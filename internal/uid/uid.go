// Package uid provides unique identifier generation for Tusflow.
package uid

import "github.com/google/uuid"

// New generates a random UUID string suitable for use as an upload
// identifier. The id doubles as the backend object key.
func New() string {
	return uuid.NewString()
}
