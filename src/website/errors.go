package website

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/imaging"
)

func FourOhFour(c *RequestContext) ResponseData {
	return c.RejectRequest(http.StatusNotFound, "Not Found")
}

func MethodNotAllowed(c *RequestContext) ResponseData {
	res := c.RejectRequest(http.StatusMethodNotAllowed, "Method Not Allowed")
	res.Header().Set("Allow", c.PathParams[allowedMethodsParam])
	return res
}

// Wraps an error with a message that can be shown to the client. The wrapped
// error is only logged.
type SafeError struct {
	Wrapped error
	Msg     string
}

func NewSafeError(err error, msg string, args ...interface{}) error {
	return &SafeError{
		Wrapped: err,
		Msg:     fmt.Sprintf(msg, args...),
	}
}

func (s *SafeError) Error() string {
	return s.Msg
}

func (s *SafeError) Unwrap() error {
	return s.Wrapped
}

var errUploadTooLarge = errors.New("upload too large")

/*
Turns an error from reading or decoding an uploaded card into a response. Bad
uploads are the client's problem and are not logged as errors; anything else
is a 500.
*/
func cardErrorResponse(c *RequestContext, err error) ResponseData {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return c.RejectRequest(http.StatusRequestEntityTooLarge, "File is too large")
	case errors.Is(err, charcard.ErrNotFound):
		return c.RejectRequest(http.StatusUnprocessableEntity, "No character data found in PNG")
	case errors.Is(err, charcard.ErrDecode):
		return c.RejectRequest(http.StatusUnprocessableEntity, "Character data in PNG is corrupt")
	case errors.Is(err, charcard.ErrFormat):
		return c.RejectRequest(http.StatusBadRequest, "File is not a valid PNG")
	case errors.Is(err, charcard.ErrIntegrity):
		return c.RejectRequest(http.StatusUnprocessableEntity, "PNG file is corrupted")
	case errors.Is(err, charcard.ErrInvalidCharacter):
		return c.RejectRequest(http.StatusUnprocessableEntity, "Character definition is invalid")
	case errors.Is(err, imaging.ErrUnsupportedImage):
		return c.RejectRequest(http.StatusBadRequest, "Image format is not supported")
	}

	var safe *SafeError
	if errors.As(err, &safe) {
		return c.RejectRequest(http.StatusBadRequest, safe.Msg)
	}
	return c.ErrorResponse(http.StatusInternalServerError, err)
}
