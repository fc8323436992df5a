// Package filtering selects the files of a source directory that are
// considered as provider archives.
//
// A source may restrict its archives with include and exclude glob patterns
// matched against the slash-separated path of each file relative to the
// source directory. Patterns are compiled with gobwas/glob, so '*' also
// matches across '/', which lets "vendor/*" select a whole subtree of a
// recursive source.
//
// # Filtering Logic
//
//  1. If exclude patterns are specified and match -> exclude (precedence)
//  2. If include patterns are specified and match -> include
//  3. If include patterns are specified but no match -> exclude
//  4. If only exclude patterns are specified and no match -> include
//  5. If no patterns are specified -> include (default behavior)
//
// # Usage Example
//
//	filter, err := filtering.NewNameFilter(
//		[]string{"*.jar"},
//		[]string{"*-experimental.jar"},
//	)
//	if err != nil {
//		return err
//	}
//	include, reason := filter.ShouldInclude("plugins/greeter.jar")
//
// Every decision comes with a reason so that skipped files can be logged
// in a way that explains the configuration.
package filtering
