//go:build cgo

// Command libvoxtral is the C-callable surface of the engine. Build it with
//
//	go build -buildmode=c-shared -o libvoxtral.so ./cmd/libvoxtral
//
// Context and stream handles are opaque pointers. Token strings returned by
// vox_stream_get and the message from vox_stream_last_error stay valid until
// the next call on the same stream. Buffers from vox_load_wav are released
// with vox_free_samples and strings from vox_transcribe with vox_free_string.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/bridge"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

type cstream struct {
	handle  bridge.Handle
	tokens  []*C.char
	lastErr *C.char
}

// release frees strings handed out by the previous call.
func (s *cstream) release() {
	for _, p := range s.tokens {
		C.free(unsafe.Pointer(p))
	}
	s.tokens = s.tokens[:0]
	if s.lastErr != nil {
		C.free(unsafe.Pointer(s.lastErr))
		s.lastErr = nil
	}
}

var (
	initOnce sync.Once
	b        *bridge.Bridge

	mu      sync.Mutex
	models  = make(map[unsafe.Pointer]bridge.Handle)
	streams = make(map[unsafe.Pointer]*cstream)
)

func instance() *bridge.Bridge {
	initOnce.Do(func() {
		cfg, err := config.Loader{}.Load()
		logger := newLogger(cfg.LogLevel)
		if err != nil {
			logger.Warn("configuration rejected, using defaults", "error", err)
			cfg = config.Config{ListenAddr: config.DefaultListenAddr}
			_ = cfg.Validate()
		}
		b = bridge.New(bridge.Options{
			Logger:             logger,
			Recorder:           telemetry.NewRecorder(logger),
			Stub:               cfg.UseStubEngine,
			ProcessingInterval: cfg.ProcessingInterval,
			RingCapacity:       cfg.RingCapacity,
		})
	})
	return b
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "error":
		lvl = slog.LevelError
	case "info":
		lvl = slog.LevelInfo
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// token allocates a unique non-nil pointer used as an opaque handle.
func token() unsafe.Pointer { return C.malloc(1) }

func lookupStream(p unsafe.Pointer) (*cstream, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := streams[p]
	return s, ok
}

//export vox_load
func vox_load(dir *C.char) unsafe.Pointer {
	if dir == nil {
		return nil
	}
	h, err := instance().Load(C.GoString(dir))
	if err != nil {
		return nil
	}
	p := token()
	mu.Lock()
	models[p] = h
	mu.Unlock()
	return p
}

//export vox_free
func vox_free(ctx unsafe.Pointer) {
	mu.Lock()
	defer mu.Unlock()
	h, ok := models[ctx]
	if !ok {
		return
	}
	if err := instance().Free(h); err != nil {
		return
	}
	delete(models, ctx)
	C.free(ctx)
}

//export vox_stream_init
func vox_stream_init(ctx unsafe.Pointer) unsafe.Pointer {
	mu.Lock()
	h, ok := models[ctx]
	mu.Unlock()
	if !ok {
		return nil
	}
	sh, err := instance().StreamInit(h)
	if err != nil {
		return nil
	}
	p := token()
	mu.Lock()
	streams[p] = &cstream{handle: sh}
	mu.Unlock()
	return p
}

//export vox_stream_feed
func vox_stream_feed(s unsafe.Pointer, samples *C.float, n C.int) {
	cs, ok := lookupStream(s)
	if !ok || samples == nil || n <= 0 {
		return
	}
	cs.release()
	pcm := unsafe.Slice((*float32)(unsafe.Pointer(samples)), int(n))
	_ = instance().Feed(cs.handle, pcm)
}

//export vox_stream_finish
func vox_stream_finish(s unsafe.Pointer) {
	cs, ok := lookupStream(s)
	if !ok {
		return
	}
	cs.release()
	_ = instance().Finish(cs.handle)
}

//export vox_stream_get
func vox_stream_get(s unsafe.Pointer, out **C.char, limit C.int) C.int {
	cs, ok := lookupStream(s)
	if !ok || out == nil || limit <= 0 {
		return 0
	}
	cs.release()
	tokens := instance().Get(cs.handle, int(limit))
	dst := unsafe.Slice(out, int(limit))
	for i, tok := range tokens {
		p := C.CString(tok)
		cs.tokens = append(cs.tokens, p)
		dst[i] = p
	}
	return C.int(len(tokens))
}

//export vox_stream_last_error
func vox_stream_last_error(s unsafe.Pointer) *C.char {
	cs, ok := lookupStream(s)
	if !ok {
		return nil
	}
	msg := instance().LastError(cs.handle)
	if cs.lastErr != nil {
		C.free(unsafe.Pointer(cs.lastErr))
		cs.lastErr = nil
	}
	if msg == "" {
		return nil
	}
	cs.lastErr = C.CString(msg)
	return cs.lastErr
}

//export vox_stream_free
func vox_stream_free(s unsafe.Pointer) {
	mu.Lock()
	cs, ok := streams[s]
	delete(streams, s)
	mu.Unlock()
	if !ok {
		return
	}
	_ = instance().StreamFree(cs.handle)
	cs.release()
	C.free(s)
}

//export vox_set_processing_interval
func vox_set_processing_interval(s unsafe.Pointer, seconds C.float) {
	cs, ok := lookupStream(s)
	if !ok {
		return
	}
	_ = instance().SetProcessingInterval(cs.handle, float64(seconds))
}

//export vox_load_wav
func vox_load_wav(path *C.char, outN *C.int) *C.float {
	if outN != nil {
		*outN = 0
	}
	if path == nil {
		return nil
	}
	samples, err := instance().LoadWAV(C.GoString(path))
	if err != nil {
		return nil
	}
	buf := (*C.float)(C.malloc(C.size_t(max(len(samples), 1)) * C.size_t(unsafe.Sizeof(C.float(0)))))
	if buf == nil {
		return nil
	}
	copy(unsafe.Slice((*float32)(unsafe.Pointer(buf)), len(samples)), samples)
	if outN != nil {
		*outN = C.int(len(samples))
	}
	return buf
}

//export vox_free_samples
func vox_free_samples(buf *C.float) {
	C.free(unsafe.Pointer(buf))
}

//export vox_transcribe
func vox_transcribe(ctx unsafe.Pointer, path *C.char) *C.char {
	mu.Lock()
	h, ok := models[ctx]
	mu.Unlock()
	if !ok || path == nil {
		return nil
	}
	text, err := instance().Transcribe(h, C.GoString(path))
	if err != nil {
		return nil
	}
	return C.CString(text)
}

//export vox_free_string
func vox_free_string(str *C.char) {
	C.free(unsafe.Pointer(str))
}

//export vox_metal_init
func vox_metal_init() C.int {
	instance()
	return C.int(bridge.AccelInit())
}

//export vox_metal_available
func vox_metal_available() C.int {
	if bridge.AccelAvailable() {
		return 1
	}
	return 0
}

//export vox_metal_shutdown
func vox_metal_shutdown() {
	bridge.AccelShutdown()
}

func main() {}
