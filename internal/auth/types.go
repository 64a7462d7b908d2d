package auth

// Roles carried in operator tokens
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// OperatorClaims identifies who is calling the guard API
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
}

// CanOperate reports whether the claims allow state-changing calls
func (c OperatorClaims) CanOperate() bool {
	return c.Role == RoleOperator
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common auth errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
