// Package textutil provides filename sanitization and display helpers.
//
// Influencer names become directory names under the output base, so they are
// folded to ASCII where possible and stripped of filesystem-unsafe characters.
package textutil
