// Package persistence stores the CLI's device list as a JSON file.
//
// The file is rewritten in full on every change through a temporary file
// and rename, so a crash never leaves a half-written list behind.
package persistence
