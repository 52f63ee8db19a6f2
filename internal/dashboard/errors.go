package dashboard

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// statusError はJSON APIが2xx以外を返した場合のエラー。
type statusError struct {
	URL    string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Status)
}

// httpStatus はエラーに含まれるHTTPステータスを返す。含まれない場合は0。
func httpStatus(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var sErr *statusError
	if errors.As(err, &sErr) {
		return sErr.Status
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return rErr.Response.StatusCode
	}
	return 0
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
