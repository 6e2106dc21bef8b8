// Package filestore implements atomic whole-file persistence using
// temp-file-plus-rename semantics with fsync of both the file and its
// directory entry. It is the durability point for collection snapshots.
package filestore
