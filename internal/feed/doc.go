// Package feed streams a payload into a child's stdin pipe under backpressure.
//
// The feeder is a single synchronous poll–wait–retry loop. Each iteration it
// re-queries the child's liveness and the pipe's free room, then writes at
// most that much. It never asks the kernel to accept more than the room it
// last observed, so no write call blocks.
//
// Outcomes:
//   - Success: every byte was accepted by the pipe
//   - PartialTimeout: the pipe stayed full longer than the timeout
//   - ProcessDied: the child exited before consuming the payload
//   - IOError: a write failed with a non-retryable error
//   - QueryError: the liveness or capacity query itself failed
//   - Canceled: the context was done at a backpressure checkpoint
//
// Timeout handling:
//   - The timeout is a stuck detector, not a wall-clock budget
//   - Elapsed time is compared only while the pipe is full
//   - A child that keeps consuming, however slowly, never times out
//   - Zero timeout waits on backpressure indefinitely
//
// Retryable conditions:
//   - EINTR is retried at once
//   - EAGAIN is treated as a full pipe and goes through the backpressure checkpoint
//
// Every outcome comes with the count of bytes delivered so callers can decide
// whether a partial transfer is usable.
package feed
