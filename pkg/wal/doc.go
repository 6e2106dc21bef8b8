/*
Package wal implements the per-collection write-ahead log.

The log is a JSON-lines file of records, each carrying a monotonically
increasing sequence number and a CRC32 checksum. Data records describe
intended mutations grouped by transaction id; a commit marker is
appended only after the atomic collection file write succeeds, so the
marker - not the data record - is the signal that a transaction's
effects are durable.

Recovery walks the log once:

  - data records of transactions with a commit marker and a sequence
    past the last checkpoint boundary are returned for re-application
  - records of transactions without a commit marker are discarded,
    which is equivalent to an abort
  - records with an abort marker are discarded
  - undecodable or checksum-failing lines are skipped, counted, and
    logged; recovery continues

Sequence numbers impose a total order over all committed mutations in a
collection; replay reconstructs exactly that order. TruncateAfter
supports administrative point-in-time rollback by cutting the log at a
sequence boundary.
*/
package wal
