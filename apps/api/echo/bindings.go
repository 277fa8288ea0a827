package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/rollbook/core"
)

var orderingParam = "ordering"

// Ordering binds the `ordering` query param, eg. "-date,student".
// Fields missing from allowed are dropped.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if !isAllowed(field, allowed) {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func isAllowed(field string, allowed []string) bool {
	for _, f := range allowed {
		if f == field {
			return true
		}
	}
	return false
}

// intParam parses an integer path or query value; anything else yields 0.
func intParam(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

type (
	LoginRequest struct {
		Username string `form:"username"`
		Password string `form:"password"`
		Next     string `form:"next"`
	}

	PasswordResetRequest struct {
		Email string `form:"email" validate:"required,email"`
	}
)
