// Package validation validates REST request bodies and domain values with
// go-playground/validator struct tags and reports failures as
// INVALID_INPUT AppErrors with per-field details.
//
//	type registerBody struct {
//	    Host string `json:"host" validate:"required,hostname_rfc1123|ip"`
//	    Port int    `json:"port" validate:"min=1,max=65535"`
//	}
//	if err := validation.Validate(body); err != nil { ... }
package validation
