package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
)

const (
	// tailBlock bounds each wait on the log; a timeout turns into a
	// keep-alive so proxies do not sever the connection.
	tailBlock  = 2 * time.Second
	errBackoff = time.Second
)

// streamHandler serves the live operations feed over SSE. Reconnecting
// clients resume from the Last-Event-ID header (or ?since=) so no entries
// are skipped; without a cursor the feed starts at the log tail.
func streamHandler(bus *eventbus.Bus, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cursor := c.Request().Header.Get("Last-Event-ID")
		if cursor == "" {
			cursor = c.QueryParam("since")
		}
		if cursor == "" {
			cursor = eventlog.CursorTail
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			entry, err := bus.TailForPush(ctx, cursor, tailBlock)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("stream tail failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(errBackoff):
				}
				continue
			}

			if entry == nil {
				if err := writeKeepAlive(res, bus.InMemory()); err != nil {
					return nil
				}
				continue
			}

			if err := writeEvent(res, entry); err != nil {
				return nil
			}
			cursor = entry.ID
		}
	}
}

func writeEvent(res *echo.Response, entry *eventlog.Entry) error {
	data, err := json.Marshal(entry.Envelope)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n",
		entry.ID, entry.Envelope.EventType, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// writeKeepAlive emits a comment frame on the durable backend and a visible
// heartbeat event in demo mode, where the frontend surfaces liveness.
func writeKeepAlive(res *echo.Response, demo bool) error {
	if demo {
		beat, _ := json.Marshal(map[string]string{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"mode":      "demo",
		})
		if _, err := fmt.Fprintf(res, "event: heartbeat\ndata: %s\n\n", beat); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
			return err
		}
	}
	res.Flush()
	return nil
}
