package httputil

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
)

// DoneMarker terminates every chat completion stream.
const DoneMarker = "data: [DONE]\n\n"

// SetEventStreamHeaders prepares the response for server-sent events.
func SetEventStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one "data: <json>" frame and flushes it. Markdown in
// the payload is written unescaped.
func WriteEvent(w *bufio.Writer, payload any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// WriteDone writes the [DONE] marker and flushes it.
func WriteDone(w *bufio.Writer) error {
	if _, err := w.WriteString(DoneMarker); err != nil {
		return err
	}
	return w.Flush()
}
