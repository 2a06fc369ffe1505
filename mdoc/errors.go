package mdoc

import "errors"

var (
	// ErrDocumentNotFound is returned when a DeviceResponse carries no
	// document of the requested doctype.
	ErrDocumentNotFound = errors.New("mdoc: document not found")
	// ErrNamespaceNotFound is returned when a namespace is absent from the
	// issuer-signed data.
	ErrNamespaceNotFound = errors.New("mdoc: namespace not found")
	// ErrElementNotFound is returned when a data element is absent from a
	// namespace.
	ErrElementNotFound = errors.New("mdoc: element not found")
	// ErrDigestMismatch is returned when an IssuerSignedItem digest does not
	// match the value recorded in the MSO.
	ErrDigestMismatch = errors.New("mdoc: digest mismatch")
	// ErrExpired is returned when the MSO validity window excludes the
	// current time.
	ErrExpired = errors.New("mdoc: document outside validity period")
)
