// Package search builds ranked multi-field queries against the release
// and predb indexes and returns matching record ids.
package search

import "strings"

// escaper rewrites every query-language operator as a backslash escape.
// strings.NewReplacer scans the input once, so the backslash added for one
// operator is never escaped again by a later pair.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`-`, `\-`,
	`!`, `\!`,
	`@`, `\@`,
	`~`, `\~`,
	`"`, `\"`,
	`&`, `\&`,
	`/`, `\/`,
	`^`, `\^`,
	`$`, `\$`,
	`=`, `\=`,
	`'`, `\'`,
)

// Escape quotes raw so the engine treats every character literally.
//
// Escape is not idempotent: escaping twice doubles every backslash. Escape
// each raw input exactly once.
func Escape(raw string) string {
	return escaper.Replace(raw)
}
