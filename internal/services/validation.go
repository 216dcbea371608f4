package services

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-proposal-backend/internal/domain"
)

var (
	cpfRE   = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}\-?\d{2}$`)
	phoneRE = regexp.MustCompile(`^55\d{2}\d{8,9}$`)

	validate = newValidator()
)

// CreateProposalInput is a proposal submission as accepted at intake.
type CreateProposalInput struct {
	Name            string  `json:"name"            validate:"required,max=120" example:"John"`
	LastName        string  `json:"lastName"        validate:"required,max=120" example:"Doe"`
	CPF             string  `json:"cpf"             validate:"required,cpf"     example:"123.456.789-00"`
	PhoneNumber     string  `json:"phoneNumber"     validate:"required,br_phone" example:"5585989924491"`
	FinancialIncome float64 `json:"financialIncome" validate:"gt=0"             example:"15000"`
	ProposalValue   float64 `json:"proposalValue"   validate:"gt=0"             example:"10000"`
	PaymentTerm     int     `json:"paymentTerm"     validate:"gte=1"            example:"36"`
}

func (in CreateProposalInput) normalized() CreateProposalInput {
	in.Name = strings.TrimSpace(in.Name)
	in.LastName = strings.TrimSpace(in.LastName)
	in.CPF = strings.TrimSpace(in.CPF)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	return in
}

func (in CreateProposalInput) user() domain.User {
	return domain.User{
		Name:            in.Name,
		LastName:        in.LastName,
		CPF:             in.CPF,
		PhoneNumber:     in.PhoneNumber,
		FinancialIncome: in.FinancialIncome,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
		return cpfRE.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("br_phone", func(fl validator.FieldLevel) bool {
		return phoneRE.MatchString(fl.Field().String())
	})
	return v
}

// ValidateProposal checks a normalized submission and returns a
// *ValidationError listing every failing field.
func ValidateProposal(in CreateProposalInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = reason(fe)
	}
	return &ValidationError{Fields: fields}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "cpf":
		return "must be a CPF such as 123.456.789-00"
	case "br_phone":
		return "must be 55 followed by area code and an 8 or 9 digit number"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
