package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

// ErrNoModel is returned when a decoder is requested without a model.
var ErrNoModel = errors.New("engine: model context required")

// Options selects and configures a decoder.
type Options struct {
	// Stub forces the placeholder decoder.
	Stub   bool
	Logger *slog.Logger
}

// New returns the decoder for ctx.
func New(ctx *model.Context, opts Options) (Decoder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Stub {
		logger.Debug("stub decoder forced by configuration")
		return NewStubDecoder(logger), nil
	}
	if ctx == nil {
		return nil, ErrNoModel
	}
	if ctx.Closed() {
		return nil, fmt.Errorf("%w: model context closed", ErrModelState)
	}
	return NewPrototypeDecoder(ctx, logger), nil
}
