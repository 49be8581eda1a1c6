package upstream

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"agproxy/internal/gemini"
)

// readSSE scans an event stream body and hands each decoded chunk to fn.
// Lines that are not data lines or fail to decode are skipped so one
// malformed chunk cannot kill the stream. fn returning an error aborts
// the read.
func readSSE(ctx context.Context, body io.Reader, fn func(*gemini.Response) error) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		resp, err := gemini.Unwrap([]byte(data))
		if err != nil {
			log.Debug().Err(err).Msg("skipping malformed stream chunk")
			continue
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
