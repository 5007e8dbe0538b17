// Package export renders audit chains into regulator-facing files and
// manages the asynchronous job lifecycle around them: admission,
// background rendering, checksumming, signing, cancellation and
// time-limited download.
package export
