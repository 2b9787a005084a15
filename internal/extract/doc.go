// Package extract turns fetched HTML into the metadata, markdown and media
// carried by a crawler.Result.
package extract
