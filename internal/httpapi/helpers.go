package httpapi

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/inference"
)

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

// decodeRequest reads and validates a generation request body.
func decodeRequest(body io.Reader) (*inference.Request, error) {
	var req inference.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil && err != io.EOF {
		return nil, newInvalidRequest("body: " + err.Error())
	}
	if err := req.Normalize(); err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	return &req, nil
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
