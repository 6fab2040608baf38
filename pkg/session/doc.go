/*
Package session serialises access to stored checkpoints.

Two workers resuming the same checkpoint would replay the same side effects
twice, so every read-modify-write goes through a per-id lock: an in-process
mutex, plus an optional ports.Locker shared by replicas.
*/
package session
