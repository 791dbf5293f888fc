package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// VariableHandler serves template variable endpoints.
type VariableHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewVariableHandler creates a variable handler.
func NewVariableHandler(eng *engine.Engine, logger *logrus.Logger) *VariableHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &VariableHandler{engine: eng, logger: logger}
}

// variableValueRequest selects values. Value is shorthand for a single one.
type variableValueRequest struct {
	Value  *string  `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// List returns the variables of a dashboard.
func (h *VariableHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	vars, err := h.engine.Variables(uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.List(w, vars, len(vars))
}

// Add appends a variable and computes its options.
func (h *VariableHandler) Add(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var v models.Variable
	if err := decodeJSON(r, &v); err != nil {
		responses.BadRequest(w, "invalid variable", err)
		return
	}
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}

	added, err := h.engine.AddTemplateVariable(r.Context(), uid, &v)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.Created(w, added)
}

// Update replaces the definition of a variable.
func (h *VariableHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid, name := vars["uid"], vars["name"]
	var v models.Variable
	if err := decodeJSON(r, &v); err != nil {
		responses.BadRequest(w, "invalid variable", err)
		return
	}
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}

	updated, err := h.engine.UpdateTemplateVariable(r.Context(), uid, name, &v)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, updated)
}

// SetValue selects values for a variable and refreshes the panels using it.
func (h *VariableHandler) SetValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid, name := vars["uid"], vars["name"]
	var req variableValueRequest
	if err := decodeJSON(r, &req); err != nil {
		responses.BadRequest(w, "invalid variable value", err)
		return
	}
	values := req.Values
	if req.Value != nil {
		values = append([]string{*req.Value}, values...)
	}
	if len(values) == 0 {
		responses.Error(w, errors.NewValidationError("values", "at least one value is required"))
		return
	}
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}

	result, err := h.engine.SetTemplateVariableValue(r.Context(), uid, name, values)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, result)
}
