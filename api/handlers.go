// Package api serves the board over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"lead-board/board"
	"lead-board/domain"
	"lead-board/storage"
	"lead-board/view"
)

const (
	maxBodySize = 64 << 10
	paramCap    = "cap"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Board     Board
	Patcher   Patcher
	Publisher Publisher
	Auth      Authenticator
	Logger    *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Auth == nil {
		d.Auth = Disabled{}
	}
	e.GET("/api/board", getBoard(d))
	e.GET("/api/items/:id", getItem(d))
	e.POST("/api/items/:id/move", postMove(d))
	e.PATCH("/api/items/:id", patchItem(d))
	e.GET("/stream", streamNotifications(d))
	e.GET("/healthz", healthz(d.Board))
}

type columnView struct {
	domain.Column
	Total   int               `json:"total"`
	Cap     int               `json:"cap"`
	HasMore bool              `json:"hasMore"`
	Items   []domain.WorkItem `json:"items"`
}

type filterOptions struct {
	Cities        []string `json:"cities"`
	PropertyTypes []string `json:"propertyTypes"`
	Sorts         []string `json:"sorts"`
}

type boardResponse struct {
	Columns   []columnView     `json:"columns"`
	ViewState string           `json:"viewState"`
	Modal     *domain.WorkItem `json:"modal,omitempty"`
	Stale     bool             `json:"stale"`
	Options   filterOptions    `json:"options"`
}

type moveRequest struct {
	ColumnID string `json:"columnId"`
}

type moveResponse struct {
	Item     domain.WorkItem  `json:"item"`
	Previous domain.Placement `json:"previous"`
}

func healthz(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "stale": b.Stale()})
	}
}

func authenticate(c echo.Context, auth Authenticator, m *requestMetrics) error {
	start := time.Now()
	_, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
	}
	return err
}

// parseCaps reads "cap=<column>:<n>" parameters into w.
func parseCaps(values []string, w *view.Window) {
	for _, v := range values {
		i := strings.LastIndexByte(v, ':')
		if i <= 0 {
			continue
		}
		n, err := strconv.Atoi(v[i+1:])
		if err != nil || n <= 0 {
			continue
		}
		w.Set(v[:i], n)
	}
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.Logger, "/api/board")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() { m.Log(c.Response().Status, err) }()

		if authErr := authenticate(c, d.Auth, m); authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		q := c.QueryParams()
		state := view.ParseState(q)
		window := view.NewWindow()
		parseCaps(q[paramCap], window)

		start := time.Now()
		resp := boardResponse{Stale: d.Board.Stale()}
		returned := 0
		for _, col := range d.Board.Columns() {
			limit := window.Cap(col.ID)
			page := d.Board.Page(col.ID, state.Filter, state.Sort, limit)
			items := page.Items
			if items == nil {
				items = []domain.WorkItem{}
			}
			returned += len(items)
			resp.Columns = append(resp.Columns, columnView{Column: col, Total: page.Total, Cap: limit, HasMore: page.HasMore, Items: items})
		}
		if state.Modal != 0 {
			if item, ok := d.Board.Item(state.Modal); ok {
				resp.Modal = &item
			} else {
				state.Modal = 0
			}
		}
		resp.ViewState = state.Encode()
		resp.Options.Cities, resp.Options.PropertyTypes = view.Options(d.Board.Items())
		for _, s := range view.Sorts {
			resp.Options.Sorts = append(resp.Options.Sorts, string(s))
		}
		m.ObserveStore(time.Since(start))
		m.SetItemsReturned(returned)
		return c.JSON(http.StatusOK, resp)
	}
}

func parseItemID(c echo.Context, m *requestMetrics) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		m.SetErrorStage("invalid_id")
		return 0, false
	}
	m.SetItemID(id)
	return id, true
}

func getItem(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.Logger, "/api/items/:id")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() { m.Log(c.Response().Status, err) }()

		if authErr := authenticate(c, d.Auth, m); authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		id, ok := parseItemID(c, m)
		if !ok {
			return c.String(http.StatusBadRequest, "invalid item id")
		}
		item, ok := d.Board.Item(id)
		if !ok {
			m.SetErrorStage("not_found")
			return c.String(http.StatusNotFound, "item not found")
		}
		m.SetItemsReturned(1)
		return c.JSON(http.StatusOK, item)
	}
}

func postMove(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.Logger, "/api/items/:id/move")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() { m.Log(c.Response().Status, err) }()

		if authErr := authenticate(c, d.Auth, m); authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		id, ok := parseItemID(c, m)
		if !ok {
			return c.String(http.StatusBadRequest, "invalid item id")
		}
		var req moveRequest
		if err := decodeBody(c.Request().Body, &req); err != nil || req.ColumnID == "" {
			m.SetErrorStage("invalid_body")
			return c.String(http.StatusBadRequest, "invalid body")
		}

		start := time.Now()
		prev, moveErr := d.Board.MoveItem(id, req.ColumnID)
		m.ObserveStore(time.Since(start))
		if moveErr != nil {
			m.SetErrorStage("move")
			return c.String(moveStatus(moveErr), moveErr.Error())
		}
		item, _ := d.Board.Item(id)
		// The write is still in flight; a failure arrives later as a
		// move-failed notification on /stream.
		return c.JSON(http.StatusAccepted, moveResponse{Item: item, Previous: prev})
	}
}

func moveStatus(err error) int {
	switch {
	case errors.Is(err, board.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, board.ErrUnknownColumn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, board.ErrSameColumn):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func patchItem(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.Logger, "/api/items/:id")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() { m.Log(c.Response().Status, err) }()

		if authErr := authenticate(c, d.Auth, m); authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		id, ok := parseItemID(c, m)
		if !ok {
			return c.String(http.StatusBadRequest, "invalid item id")
		}
		if _, ok := d.Board.Item(id); !ok {
			m.SetErrorStage("not_found")
			return c.String(http.StatusNotFound, "item not found")
		}
		var patch domain.ItemPatch
		if err := decodeBody(c.Request().Body, &patch); err != nil {
			m.SetErrorStage("invalid_body")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if patch.TouchesPlacement() {
			m.SetErrorStage("placement_in_patch")
			return c.String(http.StatusBadRequest, "use the move endpoint to change column or order")
		}
		if patch.Empty() {
			m.SetErrorStage("empty_patch")
			return c.String(http.StatusBadRequest, "empty patch")
		}

		start := time.Now()
		if _, patchErr := d.Patcher.PatchItem(ctx, id, patch); patchErr != nil {
			m.ObserveStore(time.Since(start))
			m.SetErrorStage("storage")
			switch {
			case errors.Is(patchErr, storage.ErrNotFound):
				return c.String(http.StatusNotFound, "item not found")
			case errors.Is(patchErr, storage.ErrConcurrencyConflict):
				return c.String(http.StatusConflict, "item changed, reload and retry")
			}
			c.Logger().Error(patchErr)
			return c.String(http.StatusInternalServerError, patchErr.Error())
		}
		m.ObserveStore(time.Since(start))

		if d.Publisher != nil {
			if _, pubErr := d.Publisher.Publish(ctx, id, patch, domain.SourceSidePanel); pubErr != nil {
				d.Logger.WithError(pubErr).WithField("item", id).Warn("side-panel edit saved but not announced")
			}
		}
		d.Board.ApplyRemoteMerge(id, patch)
		item, _ := d.Board.Item(id)
		m.SetItemsReturned(1)
		return c.JSON(http.StatusOK, item)
	}
}

func decodeBody(body io.Reader, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
