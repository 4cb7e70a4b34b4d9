package authflow

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
)

// Outcome is the terminal state of one flow attempt.
type Outcome int

const (
	// OutcomeRender asks the transport to render the page with Result.Data.
	OutcomeRender Outcome = iota
	// OutcomeRedirect is a plain redirect without a new session.
	OutcomeRedirect
	// OutcomeAuthenticated is a redirect carrying a freshly minted session cookie.
	OutcomeAuthenticated
	// OutcomeExternalRedirect hands control to a third-party provider.
	OutcomeExternalRedirect
	// OutcomeValidationFailed carries field and form errors; the attempt may be retried.
	OutcomeValidationFailed
	// OutcomeBlocked is a hard failure; the user must restart the upstream step.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRender:
		return "render"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeExternalRedirect:
		return "external_redirect"
	case OutcomeValidationFailed:
		return "validation_failed"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// FormErrors collects form-level and field-scoped validation messages.
type FormErrors struct {
	Form   []string            `json:"form"`
	Fields map[string][]string `json:"fields"`
}

// AddForm records a message that applies to the whole form.
func (e *FormErrors) AddForm(message string) {
	e.Form = append(e.Form, message)
}

// AddField records a message scoped to field.
func (e *FormErrors) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Empty reports whether no error was recorded.
func (e FormErrors) Empty() bool {
	return len(e.Form) == 0 && len(e.Fields) == 0
}

// Result is what a flow hands back to the transport layer.
type Result struct {
	Outcome    Outcome
	RedirectTo string
	Cookies    []*http.Cookie
	Errors     FormErrors
	Message    string
	Data       map[string]any
	// Session is set when Outcome is OutcomeAuthenticated.
	Session *auth.Session
}

func render(data map[string]any) Result {
	return Result{Outcome: OutcomeRender, Data: data}
}

func redirect(location string, cookies ...*http.Cookie) Result {
	return Result{Outcome: OutcomeRedirect, RedirectTo: location, Cookies: cookies}
}

func validationFailed(errs FormErrors) Result {
	return Result{Outcome: OutcomeValidationFailed, Errors: errs}
}

func blocked(message string, cookies ...*http.Cookie) Result {
	return Result{Outcome: OutcomeBlocked, Message: message, Cookies: cookies}
}
