package submitapplication

import "btr-application-api/internal/common/validation"

// Response is the 201 body.
type Response struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ApplicationID string `json:"applicationId"`
}

// inputFields are the body keys decoded into models.ApplicationInput.
var inputFields = func() map[string]bool {
	m := make(map[string]bool, len(validation.ApplicationFields))
	for _, f := range validation.ApplicationFields {
		m[f] = true
	}
	return m
}()
