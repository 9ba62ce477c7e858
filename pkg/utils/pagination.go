package utils

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// CursorParams carries backward-pagination parameters for a message page.
// An empty cursor (no before values) requests the newest page.
type CursorParams struct {
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}

func (p CursorParams) HasCursor() bool {
	return !p.BeforeTime.IsZero() || p.BeforeID != ""
}

// GetCursorParams extracts cursor parameters from the request query.
func GetCursorParams(c echo.Context) CursorParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	params := CursorParams{
		BeforeID: c.QueryParam("before_id"),
		Limit:    limit,
	}

	if raw := c.QueryParam("before_ts"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			params.BeforeTime = t
		}
	}

	return params
}
