package echoapi

import (
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// intParam parses the path parameter name, unknown or malformed ids are reported as not found.
func intParam(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// intQuery parses the optional query parameter name, def is returned when it is missing.
func intQuery(ctx echo.Context, name string, def int) (int, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, core.NewFieldValidationError(name, errors.New("a valid integer is required"))
	}
	return n, nil
}

// formFile opens the multipart file uploaded as field.
// The caller must close the returned reader.
func formFile(ctx echo.Context, field string) (string, io.ReadCloser, error) {
	fh, err := ctx.FormFile(field)
	if err != nil {
		return "", nil, core.NewFieldValidationError(field, errors.New("no file was submitted"))
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, errors.Wrap(err, "opening uploaded file")
	}
	return fh.Filename, f, nil
}
