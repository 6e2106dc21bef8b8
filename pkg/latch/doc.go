// Package latch implements per-document locks with timeout, acquired
// in sorted id order to prevent deadlock between transactions that
// write overlapping document sets.
package latch
