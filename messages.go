package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// RegisterAccountMessage is the input of Authenticator.Register.
type RegisterAccountMessage struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	ConfirmPassword    string `json:"confirm_password"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	OrganizationName   string `json:"organization_name"`
	CreateOrganization bool   `json:"create_organization"`
}

func (r RegisterAccountMessage) Type() string { return "account.register" }

func (r RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.Password))),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.OrganizationName, validation.By(requiredIf(r.CreateOrganization)), validation.Length(0, 200)),
	)
}

// LoginMessage is the input of Authenticator.Login.
type LoginMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (r LoginMessage) Type() string { return "account.login" }

func (r LoginMessage) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(0, MaxPasswordLength)),
	)
}

// ChangePasswordMessage is the input of Authenticator.ChangePassword.
type ChangePasswordMessage struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r ChangePasswordMessage) Type() string { return "account.password.change" }

func (r ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, passwordRules()...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.NewPassword))),
	)
}

// FinalizePasswordResetMessage is the input of Authenticator.ResetPassword.
type FinalizePasswordResetMessage struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r FinalizePasswordResetMessage) Type() string { return "account.password.reset.finalize" }

func (r FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, passwordRules()...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.NewPassword))),
	)
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(MinPasswordLength, MaxPasswordLength),
		validation.By(notBlank),
	}
}

func notBlank(value any) error {
	s, _ := value.(string)
	if s != "" && strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func requiredIf(cond bool) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if cond && strings.TrimSpace(s) == "" {
			return errors.New("cannot be blank")
		}
		return nil
	}
}
