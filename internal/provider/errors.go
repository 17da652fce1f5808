package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/bobuk/calblock/internal/model"
)

// ErrNoToken is returned when a Google account has never been authorized.
var ErrNoToken = errors.New("no OAuth token stored for account")

// Classify maps a backend error onto the model error kinds: missing
// resources become NotFoundError, auth/network/service failures become
// ProviderUnavailableError, anything else is returned unchanged.
func Classify(providerName, calendarID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrProviderUnavailable) {
		return err
	}
	unavailable := func() error {
		return &model.ProviderUnavailableError{Provider: providerName, CalendarID: calendarID, Err: err}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(gErr.Code, calendarID, err, unavailable)
	}

	var retrieveErr *oauth2.RetrieveError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, ErrNoToken),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &retrieveErr),
		errors.As(err, &netErr),
		errors.As(err, &urlErr):
		return unavailable()
	}

	if code := statusFromMessage(err.Error()); code != 0 {
		return classifyStatus(code, calendarID, err, unavailable)
	}
	return err
}

func classifyStatus(code int, calendarID string, err error, unavailable func() error) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return errors.Join(model.NewNotFound("remote event", calendarID), err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusTooManyRequests, code >= 500:
		return unavailable()
	}
	return err
}

// statusFromMessage recognises the HTTP status text go-webdav puts in its
// error strings.
func statusFromMessage(msg string) int {
	for _, code := range []int{
		http.StatusNotFound, http.StatusGone,
		http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout,
	} {
		if strings.Contains(msg, http.StatusText(code)) {
			return code
		}
	}
	return 0
}
