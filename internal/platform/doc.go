// Package platform detects the host distribution and gates installation on
// platforms the vendor actually ships packages for.
package platform
