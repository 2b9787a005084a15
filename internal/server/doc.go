// Package server assembles crawler sessions from configuration and runs the
// serve-mode HTTP front end.
package server
