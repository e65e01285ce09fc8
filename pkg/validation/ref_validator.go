package validation

import (
	"net/url"
	"path/filepath"
	"strings"

	apperrors "go-photo-cropper/internal/errors"
)

// Reference schemes understood by the storage layer
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeAzure = "azblob"
)

// RefValidator handles image reference validation logic
type RefValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewRefValidator creates a validator accepting every supported scheme and host
func NewRefValidator() *RefValidator {
	return &RefValidator{
		allowedSchemes: []string{SchemeFile, SchemeHTTP, SchemeHTTPS, SchemeAzure},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewRefValidatorWithOptions creates a validator with custom schemes and remote hosts
func NewRefValidatorWithOptions(schemes []string, hosts []string) *RefValidator {
	return &RefValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// Scheme returns the storage scheme of ref. Bare paths are file references.
func Scheme(ref string) string {
	ref = strings.TrimSpace(ref)
	if isBarePath(ref) {
		return SchemeFile
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return SchemeFile
	}
	return strings.ToLower(u.Scheme)
}

// ValidateImageRef validates if the provided reference is acceptable for image processing
func (v *RefValidator) ValidateImageRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperrors.NewValidationError("image reference cannot be empty", nil)
	}

	scheme := Scheme(ref)
	if !v.isSchemeAllowed(scheme) {
		return apperrors.NewValidationError("reference scheme not allowed", nil)
	}

	if scheme == SchemeFile {
		path := ref
		if !isBarePath(ref) {
			u, err := url.Parse(ref)
			if err != nil {
				return apperrors.NewValidationError("invalid reference format", err)
			}
			if u.Path == "" {
				return apperrors.NewValidationError("file reference must have a path", nil)
			}
			path = u.Path
		}
		if hasParentElement(path) {
			return apperrors.NewValidationError("file reference must not contain '..' elements", nil)
		}
		return nil
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return apperrors.NewValidationError("invalid reference format", err)
	}
	if parsed.Host == "" {
		return apperrors.NewValidationError("reference must have a valid host", nil)
	}
	if scheme == SchemeAzure && strings.Trim(parsed.Path, "/") == "" {
		return apperrors.NewValidationError("blob reference must name a blob", nil)
	}
	if (scheme == SchemeHTTP || scheme == SchemeHTTPS) && !v.isHostAllowed(parsed.Hostname()) {
		return apperrors.NewValidationError("reference host not allowed", nil)
	}

	return nil
}

// isSchemeAllowed checks if the scheme is in the allowed list
func (v *RefValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

// isHostAllowed checks if the host is in the allowed list
// Returns true if no host restrictions are set (empty allowedHosts)
func (v *RefValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if host == allowed {
			return true
		}
	}
	return false
}

func isBarePath(ref string) bool {
	if filepath.IsAbs(ref) || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return true
	}
	return !strings.Contains(ref, "://")
}

func hasParentElement(path string) bool {
	for _, elem := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if elem == ".." {
			return true
		}
	}
	return false
}
