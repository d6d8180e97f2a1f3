package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const streamBuffer = 64

var streamKeepAlive = 30 * time.Second

// streamNotifications relays store notifications as server-sent events.
func streamNotifications(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = bearerPrefix + token
		}
		userID, err := d.Auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch, cancel := d.Board.Subscribe(streamBuffer)
		defer cancel()
		d.Logger.WithField("user", userID).Debug("stream client connected")
		defer d.Logger.WithField("user", userID).Debug("stream client disconnected")

		ctx := c.Request().Context()
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					return nil
				}
				data, err := sonic.Marshal(n)
				if err != nil {
					d.Logger.WithError(err).Warn("encode notification")
					continue
				}
				frame := make([]byte, 0, len(data)+8)
				frame = append(frame, "data: "...)
				frame = append(frame, data...)
				frame = append(frame, '\n', '\n')
				if _, err := res.Write(frame); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := res.Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
