// Package auth identifies the user behind each API request.
//
// # Tokens
//
// Users authenticate with HS256 JWTs signed with auth.jwt_secret. The
// subject claim is the user id, the issuer must be "workflow-gateway" and
// an expiry is required. Tokens are minted with the CLI:
//
//	workflow-gateway token --user alice --ttl 720h
//
// # Middleware
//
// Middleware puts an AuthContext on the request context; handlers read it
// with UserID(ctx). Without a secret, authentication is disabled and every
// request runs as LocalUser, which suits single-user local installs.
package auth
