package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, not on
// the message text.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_error",
//	  "message": "invalid proposal",
//	  "details": { "cpf": "must be a valid CPF" }
//	}
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Emitted by the rate-limit middleware; listed so clients see one taxonomy.
	ErrCodeRateLimited = "too_many_requests"

	// The submission failed field validation; details maps field to problem.
	ErrCodeValidation = "validation_error"
	// The proposal was stored but could not be handed to analysis yet;
	// details carries its id and the retry sweep will deliver it.
	ErrCodeDeliveryFailed = "delivery_failed"
)
