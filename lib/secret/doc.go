// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides memory hygiene for sensitive data: user
// names, password digests, and passwords in transit between a prompt
// and the key-stretching function.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory is
// outside the Go heap, the garbage collector never copies or relocates
// it, so zeroing on Close is authoritative.
//
// Wipe zeroes an ordinary in-heap byte slice. It cannot defeat GC
// copies that happened before the call, but it removes the primary
// residence of a secret — user records call it on destruction so
// digests do not linger in freed memory.
package secret
