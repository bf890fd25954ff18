// Package output persists generated bundles.
//
// A [Writer] receives the complete bundle text. [FileWriter] replaces the
// target file atomically so a userscript manager reading the file never sees
// a partially written bundle; [StdoutWriter] streams to a terminal or pipe.
package output
