// Package trackid converts 128-bit track identifiers to and from the compact
// base62 text form used in URLs and form fields.
//
// The canonical text form is always 22 digits over 0-9, a-z, A-Z, left padded
// with '0'. Decode also accepts shorter numerals so clients may drop leading
// zeros.
package trackid
