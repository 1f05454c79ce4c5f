package server

import "errors"

var (
	errInvalidCredentials           = errors.New("invalid credentials")
	errUsernameAndPasswordRequired   = errors.New("username and password required")
	errUsernameTaken                = errors.New("username already taken")
	errUnauthorized                  = errors.New("unauthorized")
	errUserNotFound                  = errors.New("user not found")
	errForbidden                     = errors.New("forbidden")
	errMcpServerNotFound             = errors.New("mcp server not found")
	errInvalidMcpConfig              = errors.New("invalid mcp server type")
	errUserIDRequired                = errors.New("userId required")
	errInvalidRole                   = errors.New("role must be \"admin\" or \"user\"")
)
