// Package authapi exposes the session service over HTTP.
//
// Routes:
//
//	POST   /api/v1/auth/register
//	POST   /api/v1/auth/login
//	POST   /api/v1/auth/refresh-token
//	POST   /api/v1/auth/logout
//	PATCH  /api/v1/users/change-password
//	*      /api/v1/management   (ADMIN, MANAGER)
//	*      /api/v1/admin        (ADMIN)
//
// Every failure is written as a JSON error body carrying a stable code
// (E0001..E0012); see errors.go for the mapping.
package authapi
