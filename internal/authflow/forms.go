package authflow

import (
	"errors"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/go-playground/validator/v10"
)

const (
	fieldIntent          = "intent"
	fieldEmail           = "email"
	fieldPassword        = "password"
	fieldConfirmPassword = "confirmPassword"
	fieldUsername        = "username"
	fieldFullName        = "fullName"
	fieldAgree           = "agree"
	fieldPromotions      = "promotions"
	fieldRemember        = "remember"

	checkboxOn = "on"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// fieldMessages maps "<field>.<rule>" onto the message shown next to the field.
var fieldMessages = map[string]string{
	"email.required":           "Email address is required",
	"email.email":              "Invalid email address",
	"email.max":                "Email address is too long",
	"password.required":        "Password is required",
	"password.min":             "Password is too short",
	"password.max":             "Password is too long",
	"confirmPassword.required": "Password confirmation is required",
	"confirmPassword.eqfield":  "Passwords do not match",
	"username.required":        "Username is required",
	"username.min":             "Username is too short",
	"username.max":             "Username is too long",
	"username.username":        "Username can only include letters, numbers, and underscores",
	"fullName.required":        "Name is required",
	"fullName.min":             "Name is too short",
	"fullName.max":             "Name is too long",
	"agree.eq":                 "You must agree to the terms of service and privacy policy",
}

const fallbackFieldMessage = "Invalid value"

type standardLoginForm struct {
	Email    string `field:"email" validate:"required,email,max=320"`
	Password string `field:"password" validate:"required,max=100"`
	Remember string `field:"remember" validate:"omitempty,eq=on"`
}

type onboardingForm struct {
	Email           string `field:"email" validate:"required,email,max=320"`
	Password        string `field:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `field:"confirmPassword" validate:"required,eqfield=Password"`
	Username        string `field:"username" validate:"required,min=3,max=20,username"`
	FullName        string `field:"fullName" validate:"required,min=3,max=40"`
	Agree           string `field:"agree" validate:"eq=on"`
	Promotions      string `field:"promotions" validate:"omitempty,eq=on"`
}

type resetPasswordForm struct {
	Password        string `field:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `field:"confirmPassword" validate:"required,eqfield=Password"`
}

// LoginSubmission is the tagged variant a login form decodes into:
// either StandardLogin or ProviderLogin.
type LoginSubmission interface {
	isLoginSubmission()
}

// StandardLogin is an email and password sign-in.
type StandardLogin struct {
	Email    string
	Password string
	Remember bool
}

// ProviderLogin starts a third-party sign-in.
type ProviderLogin struct {
	Provider auth.Provider
}

func (StandardLogin) isLoginSubmission() {}
func (ProviderLogin) isLoginSubmission() {}

// OnboardingSubmission is a structurally valid onboarding form.
type OnboardingSubmission struct {
	Email      string
	Password   string
	Username   string
	FullName   string
	Promotions bool
}

type formValidator struct {
	validate *validator.Validate
}

func newFormValidator() (*formValidator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("field"); name != "" {
			return name
		}
		return field.Name
	})
	if err := validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	return &formValidator{validate: validate}, nil
}

// check validates form and converts rule violations into field messages.
func (v *formValidator) check(form any) (FormErrors, error) {
	var errs FormErrors
	err := v.validate.Struct(form)
	if err == nil {
		return errs, nil
	}
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return errs, err
	}
	for _, violation := range violations {
		message, ok := fieldMessages[violation.Field()+"."+violation.Tag()]
		if !ok {
			message = fallbackFieldMessage
		}
		errs.AddField(violation.Field(), message)
	}
	return errs, nil
}

// parseLogin decodes the intent discriminator and validates the matching variant.
func (v *formValidator) parseLogin(values url.Values) (LoginSubmission, FormErrors, error) {
	intent := strings.TrimSpace(values.Get(fieldIntent))
	if intent == "standard" {
		form := standardLoginForm{
			Email:    strings.TrimSpace(values.Get(fieldEmail)),
			Password: values.Get(fieldPassword),
			Remember: values.Get(fieldRemember),
		}
		errs, err := v.check(form)
		if err != nil || !errs.Empty() {
			return nil, errs, err
		}
		return StandardLogin{
			Email:    form.Email,
			Password: form.Password,
			Remember: form.Remember == checkboxOn,
		}, errs, nil
	}

	var errs FormErrors
	provider, err := auth.ParseProvider(intent)
	if err != nil {
		errs.AddField(fieldIntent, "Invalid sign-in method")
		return nil, errs, nil
	}
	return ProviderLogin{Provider: provider}, errs, nil
}

func (v *formValidator) parseOnboarding(values url.Values) (OnboardingSubmission, FormErrors, error) {
	form := onboardingForm{
		Email:           strings.TrimSpace(values.Get(fieldEmail)),
		Password:        values.Get(fieldPassword),
		ConfirmPassword: values.Get(fieldConfirmPassword),
		Username:        strings.TrimSpace(values.Get(fieldUsername)),
		FullName:        strings.TrimSpace(values.Get(fieldFullName)),
		Agree:           values.Get(fieldAgree),
		Promotions:      values.Get(fieldPromotions),
	}
	errs, err := v.check(form)
	if err != nil || !errs.Empty() {
		return OnboardingSubmission{}, errs, err
	}
	return OnboardingSubmission{
		Email:      form.Email,
		Password:   form.Password,
		Username:   form.Username,
		FullName:   form.FullName,
		Promotions: form.Promotions == checkboxOn,
	}, errs, nil
}

func (v *formValidator) parseResetPassword(values url.Values) (string, FormErrors, error) {
	form := resetPasswordForm{
		Password:        values.Get(fieldPassword),
		ConfirmPassword: values.Get(fieldConfirmPassword),
	}
	errs, err := v.check(form)
	if err != nil || !errs.Empty() {
		return "", errs, err
	}
	return form.Password, errs, nil
}
