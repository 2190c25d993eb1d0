// Package v1alpha1 contains the mailguard API types: the relay configuration,
// outbound messages, and their validation.
package v1alpha1
