// Command voxtral transcribes WAV files with a local model bundle.
//
// Usage:
//
//	voxtral transcribe [--model dir] <file.wav>
//	voxtral stream [--model dir] [--realtime] <file.wav>
//	voxtral accel
//	voxtral version
//
// Defaults come from the same environment as the adapter
// (VOXTRAL_MODEL_DIR, VOXTRAL_PROCESSING_INTERVAL, ...).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
