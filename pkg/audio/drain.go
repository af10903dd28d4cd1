package audio

// Drain reads from ch until it is closed, discarding every value. Use it
// when a capture or playback goroutine must be allowed to finish but its
// output is no longer wanted (for example after STOP).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
