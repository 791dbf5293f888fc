// Package handlers implements the HTTP endpoints of the dashboard API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// decodeJSON reads the request body into v. Unknown fields are ignored so
// documents from other dashboard tools decode.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathInt parses a numeric path variable.
func pathInt(r *http.Request, name string) (int, error) {
	raw := mux.Vars(r)[name]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, fmt.Sprintf("%q is not a number", raw))
	}
	return n, nil
}

// findPanel returns the panel with the given id from a snapshot.
func findPanel(d *models.Dashboard, id int) (*models.Panel, error) {
	p, _ := d.Panel(id)
	if p == nil {
		e := errors.NewNotFoundError("panel", strconv.Itoa(id))
		e.Cause = errors.ErrPanelNotFound
		return nil, e.WithContext("dashboard_uid", d.UID)
	}
	return p, nil
}
