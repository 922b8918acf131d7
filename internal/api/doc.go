// Package api exposes the REST surface for submitting flash-loan steps and
// retrieving their audit records.
package api
