package handler

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	// displayTimeLayout renders timestamps in the users table.
	displayTimeLayout = "2006-01-02 15:04:05"

	// debugTimeLayout is the prefilled value of the debug date field.
	debugTimeLayout = "2006-01-02 15:04"
)

// DashboardHandler serves the HTML pages for the directory and the calculator.
type DashboardHandler struct {
	userService       *service.UserService
	calculatorService *service.CalculatorService
	templates         *template.Template
	logger            zerolog.Logger
}

// DashboardConfig contains configuration for the dashboard.
type DashboardConfig struct {
	UserService       *service.UserService
	CalculatorService *service.CalculatorService
	Logger            zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(cfg DashboardConfig) (*DashboardHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &DashboardHandler{
		userService:       cfg.UserService,
		calculatorService: cfg.CalculatorService,
		templates:         tmpl,
		logger:            cfg.Logger.With().Str("handler", "dashboard").Logger(),
	}, nil
}

// =============================================================================
// Template Data Structs
// =============================================================================

// PageData contains common page data.
type PageData struct {
	Title   string
	Error   string
	Success string
}

// UserRow is one row of the users table.
type UserRow struct {
	service.UserView
	LastAccessText string
	DebugDefault   string
}

// UsersPageData contains users page data.
type UsersPageData struct {
	PageData
	Users   []UserRow
	Total   int
	Active  int
	Editing *UserRow
}

// CalculatorKey is one keypad button.
type CalculatorKey struct {
	Key   string
	Label string
}

// CalculatorPageData contains calculator page data.
type CalculatorPageData struct {
	PageData
	State      calculator.State
	Digits     []CalculatorKey
	Operations []CalculatorKey
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers dashboard routes.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard/users", http.StatusFound)
	})

	// Users
	r.Get("/dashboard/users", h.handleUserList)
	r.Post("/dashboard/users", h.handleCreateUser)
	r.Post("/dashboard/users/search", h.handleSearchUser)
	r.Post("/dashboard/users/{dni}/edit", h.handleEditUser)
	r.Post("/dashboard/users/{dni}/delete", h.handleDeleteUser)
	r.Post("/dashboard/users/{dni}/last-access", h.handleSetLastAccess)

	// Calculator
	r.Get("/dashboard/calculator", h.handleCalculator)
	r.Post("/dashboard/calculator", h.handleCalculatorKey)
}

// =============================================================================
// User Handlers
// =============================================================================

func (h *DashboardHandler) handleUserList(w http.ResponseWriter, r *http.Request) {
	out, err := h.userService.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list users")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	data := UsersPageData{
		PageData: PageData{
			Title:   "Usuarios",
			Error:   query.Get("error"),
			Success: query.Get("ok"),
		},
		Users:  make([]UserRow, 0, len(out.Users)),
		Total:  out.Total,
		Active: out.Active,
	}
	editing := query.Get("edit")
	for _, u := range out.Users {
		row := newUserRow(u)
		data.Users = append(data.Users, row)
		if u.DNI == editing && u.Active {
			data.Editing = &row
		}
	}

	h.render(w, http.StatusOK, "users.html", data)
}

func newUserRow(u service.UserView) UserRow {
	return UserRow{
		UserView:       u,
		LastAccessText: u.LastAccess.Format(displayTimeLayout),
		DebugDefault:   u.LastAccess.Format(debugTimeLayout),
	}
}

func (h *DashboardHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectUsers(w, r, "", "Formulario inválido")
		return
	}

	_, err := h.userService.Create(r.Context(), service.CreateUserInput{
		DNI:   r.FormValue("dni"),
		Name:  r.FormValue("nombre"),
		Email: r.FormValue("correo"),
	})
	if err != nil {
		h.logger.Debug().Err(err).Msg("Failed to create user")
		h.redirectUsers(w, r, "", userMessage(err))
		return
	}

	h.redirectUsers(w, r, "Usuario creado", "")
}

func (h *DashboardHandler) handleSearchUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectUsers(w, r, "", "Formulario inválido")
		return
	}

	user, err := h.userService.Search(r.Context(), r.FormValue("dni"))
	if err != nil {
		h.redirectUsers(w, r, "", userMessage(err))
		return
	}

	h.redirectUsers(w, r, "Último acceso actualizado: "+user.LastAccess.Format(displayTimeLayout), "")
}

func (h *DashboardHandler) handleEditUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectUsers(w, r, "", "Formulario inválido")
		return
	}

	name := r.FormValue("nombre")
	email := r.FormValue("correo")
	_, err := h.userService.Update(r.Context(), service.UpdateUserInput{
		DNI:   dniParam(r),
		Name:  &name,
		Email: &email,
	})
	if err != nil {
		h.redirectUsers(w, r, "", userMessage(err))
		return
	}

	h.redirectUsers(w, r, "Usuario modificado", "")
}

func (h *DashboardHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Delete(r.Context(), dniParam(r)); err != nil {
		h.redirectUsers(w, r, "", userMessage(err))
		return
	}

	h.redirectUsers(w, r, "Usuario eliminado", "")
}

func (h *DashboardHandler) handleSetLastAccess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectUsers(w, r, "", "Formulario inválido")
		return
	}

	_, err := h.userService.SetLastAccess(r.Context(), dniParam(r), r.FormValue("fecha"))
	if err != nil {
		h.redirectUsers(w, r, "", userMessage(err))
		return
	}

	h.redirectUsers(w, r, "Fecha de acceso modificada", "")
}

// userMessage renders a service error for the dashboard.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return "Usuario no encontrado"
	case errors.Is(err, domain.ErrUserAlreadyExists):
		return "Ya existe un usuario con ese DNI"
	case errors.Is(err, domain.ErrEmptyDNI):
		return "El DNI es obligatorio"
	case errors.Is(err, domain.ErrUserInactive):
		return "El usuario está inactivo"
	case errors.Is(err, domain.ErrInvalidTimestamp):
		return "Fecha inválida (YYYY-MM-DD HH:MM)"
	case errors.Is(err, domain.ErrDirectoryBusy):
		return "El directorio está ocupado, inténtalo de nuevo"
	default:
		return "No se pudo guardar el cambio"
	}
}

func (h *DashboardHandler) redirectUsers(w http.ResponseWriter, r *http.Request, ok, errMsg string) {
	q := url.Values{}
	if ok != "" {
		q.Set("ok", ok)
	}
	if errMsg != "" {
		q.Set("error", errMsg)
	}
	target := "/dashboard/users"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// =============================================================================
// Calculator Handlers
// =============================================================================

var digitKeys = []string{"7", "8", "9", "4", "5", "6", "1", "2", "3", "0", "."}

func (h *DashboardHandler) handleCalculator(w http.ResponseWriter, r *http.Request) {
	h.renderCalculator(w, http.StatusOK, h.calculatorService.State(calculatorSession(w, r)), "")
}

func (h *DashboardHandler) handleCalculatorKey(w http.ResponseWriter, r *http.Request) {
	session := calculatorSession(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	state, err := h.calculatorService.Press(r.Context(), session, r.FormValue("key"))
	if err != nil {
		h.renderCalculator(w, http.StatusBadRequest, state, "Tecla no válida")
		return
	}
	h.renderCalculator(w, http.StatusOK, state, "")
}

func (h *DashboardHandler) renderCalculator(w http.ResponseWriter, status int, state calculator.State, errMsg string) {
	data := CalculatorPageData{
		PageData: PageData{Title: "Calculadora", Error: errMsg},
		State:    state,
		Digits:   make([]CalculatorKey, 0, len(digitKeys)),
	}
	for _, d := range digitKeys {
		data.Digits = append(data.Digits, CalculatorKey{Key: d, Label: d})
	}
	for _, op := range h.calculatorService.Operations() {
		data.Operations = append(data.Operations, CalculatorKey{Key: op.Name, Label: op.Symbol})
	}
	h.render(w, status, "calculator.html", data)
}

// =============================================================================
// Helper Methods
// =============================================================================

func (h *DashboardHandler) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
