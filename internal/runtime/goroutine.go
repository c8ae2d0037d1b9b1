package runtime

import "runtime"

// goroutineID returns an identifier for the calling goroutine. There is no
// public API for this; we fall back to the same trick the reactive-tracking
// layer of the teacher codebase uses: parse the leading "goroutine N "
// out of a runtime.Stack dump. This is a process-local, best-effort
// identifier — good enough to key a thread-local stack, which is all it is
// used for here.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	inNumber := false
	for i := 0; i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			inNumber = true
			id = id*10 + uint64(buf[i]-'0')
		} else if inNumber {
			break
		}
	}
	return id
}
