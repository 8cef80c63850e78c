package tts

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/internal/audio"
	"github.com/dgnsrekt/narrator/tts/sentence"
)

// ExportAudio synthesizes text into one WAV payload. Text within the
// per-request character limit goes out as a single model call; longer
// text is split at sentence boundaries, synthesized sequentially with
// the preceding part as context, and the resulting buffers concatenated
// under a rebuilt header.
func ExportAudio(ctx context.Context, model Model, text string, settings Settings, charLimit int) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if charLimit <= 0 {
		charLimit = DefaultExportCharLimit
	}
	opts := settings.Options()

	if len(text) <= charLimit {
		return model.Synthesize(ctx, text, opts, nil, settings)
	}

	parts := sentence.NewSplitter().SplitLimit(text, charLimit)
	if len(parts) == 0 {
		return nil, ErrEmptyText
	}
	log.Info("exporting in parts", "parts", len(parts), "chars", len(text))

	payloads := make([][]byte, 0, len(parts))
	for i, part := range parts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var contextChunks []string
		if settings.ContextMode && i > 0 {
			contextChunks = []string{parts[i-1]}
		}
		data, err := model.Synthesize(ctx, part, opts, contextChunks, settings)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, data)
		log.Debug("export part synthesized", "part", i+1, "of", len(parts))
	}

	return audio.ConcatWAV(payloads)
}
