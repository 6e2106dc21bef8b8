// Package codec serializes documents and collection snapshots to bytes
// for at-rest storage, optionally sealing them with AES-256-GCM.
//
// Payload layout when encryption is enabled: a random GCM nonce
// followed by the sealed ciphertext. Decryption failure is surfaced as
// types.ErrEncryptionKey and is fatal at collection open.
package codec
