package model

// ValidationStatus is the top-level verdict of a credential check.
type ValidationStatus int

const (
	// ValidationValid means the service accepted the credential.
	ValidationValid ValidationStatus = iota
	// ValidationInvalid means the credential is definitively unusable.
	ValidationInvalid
	// ValidationTransient means the check could not be completed.
	ValidationTransient
)

// String returns a human-readable name for the status.
func (s ValidationStatus) String() string {
	switch s {
	case ValidationValid:
		return "valid"
	case ValidationInvalid:
		return "invalid"
	case ValidationTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// InvalidReason qualifies a ValidationInvalid verdict.
type InvalidReason string

const (
	ReasonExpired   InvalidReason = "expired"
	ReasonMalformed InvalidReason = "malformed"
	ReasonForbidden InvalidReason = "forbidden"
)

// Validation is the result of CredentialValidator.Validate.
type Validation struct {
	Status ValidationStatus
	Reason InvalidReason // Set only when Status is ValidationInvalid.
	User   UserInfo      // Set only when Status is ValidationValid.
	Err    error
}

// IsValid reports whether the credential was accepted.
func (v Validation) IsValid() bool {
	return v.Status == ValidationValid
}

// Kind maps the verdict onto the error taxonomy. Valid results map to KindUnknown.
func (v Validation) Kind() ErrorKind {
	switch v.Status {
	case ValidationInvalid:
		switch v.Reason {
		case ReasonMalformed:
			return KindMalformed
		case ReasonForbidden:
			return KindForbidden
		default:
			return KindExpired
		}
	case ValidationTransient:
		return KindTransient
	default:
		return KindUnknown
	}
}
