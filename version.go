// Package shrinkarr rewrites oversized library video files in place with
// smaller HEVC copies.
package shrinkarr

// Version is reported by the API and the startup log.
const Version = "0.4.2"
