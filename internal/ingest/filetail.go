package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/normalize"
)

// StartFileTail follows newline-delimited killmail files, reopening them
// after truncation or rotation.
func StartFileTail(ctx context.Context, cfg *config.Manager, dec *normalize.Decoder, out chan<- *model.Event, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, dec, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, dec *normalize.Decoder, out chan<- *model.Event, logger *slog.Logger) {
	var file *os.File
	var offset int64
	first := true
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			// Only the first open honours start_at_end; a rotated file is
			// read from the top.
			if startAtEnd && first {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
			first = false
		}

		reader := bufio.NewReaderSize(file, 64*1024)
		var partial []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					partial = append(partial, chunk...)
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr != nil || info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := chunk
			if len(partial) > 0 {
				line = append(partial, chunk...)
				partial = nil
			}
			offset += int64(len(line))
			decodeLine(ctx, dec, line, "file_tail", out, logger)
		}
	}
}
