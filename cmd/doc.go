// Package cmd defines the crawlreport command line: a root command that
// crawls one URL and prints one JSON report line, and a serve subcommand.
package cmd
