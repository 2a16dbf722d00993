package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"

	"github.com/example/sessionauth/internal/password"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// bcrypt truncates on bytes, not runes
	if err := v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= password.MaxLength
	}); err != nil {
		panic(err)
	}
	return v
}

// RegisterInput is the payload of Register. Exactly one of Email and
// PhoneNumber must be set.
type RegisterInput struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Role        string `json:"role" validate:"required"`
	Password    string `json:"password" validate:"required,bcryptlen"`
}

// LoginInput is the payload of Login. Exactly one of Email and PhoneNumber
// must be set.
type LoginInput struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Password    string `json:"password" validate:"required"`
}

// ChangePasswordInput is the payload of ChangePassword.
type ChangePasswordInput struct {
	AccountID   string `json:"accountId" validate:"required"`
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,bcryptlen"`
}

type refreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required,jwt"`
}

// normalizeIdentifier trims both identifiers, enforces that exactly one is
// present and rewrites the phone number into E.164.
func normalizeIdentifier(email, phone *string, region string) *Error {
	*email = strings.TrimSpace(*email)
	*phone = strings.TrimSpace(*phone)
	switch {
	case *email != "" && *phone != "":
		return invalidData("email,phoneNumber: provide either email or phoneNumber")
	case *email == "" && *phone == "":
		return invalidData("email,phoneNumber: email or phoneNumber is required")
	case *phone != "":
		num, err := phonenumbers.Parse(*phone, region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return invalidData("phoneNumber: invalid phone number")
		}
		*phone = phonenumbers.Format(num, phonenumbers.E164)
	}
	return nil
}

// check validates s and reports the first failing field as "field: reason".
func check(s any) *Error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalidData(fmt.Sprintf("%s: %s", fe.Field(), msgForTag(fe)))
	}
	return invalidData(err.Error())
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be a valid phone number"
	case "jwt":
		return "should be a valid jwt string"
	case "bcryptlen":
		return fmt.Sprintf("must be at most %d bytes", password.MaxLength)
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
