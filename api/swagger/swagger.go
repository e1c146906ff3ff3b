package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Board API",
        "description": "Accounts, token sessions and email verification",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Sign-up, login and refresh-token rotation"},
        {"name": "Email", "description": "One-time email verification codes"},
        {"name": "Users", "description": "The authenticated user's account"}
    ],
    "paths": {
        "/auth/sign-up": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SignUpRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Username taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/TokenPairEnvelope"}},
                    "401": {"description": "UNKNOWN_IDENTITY or INVALID_CREDENTIALS", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/reissue": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Reissue token pair",
                "description": "Exchanges the current refresh token for a new pair. A superseded token fails with MISMATCHED_REFRESH_TOKEN, a logged-out session with REVOKED_SESSION.",
                "parameters": [
                    {"name": "Refresh-Token", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/ReissueRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/TokenPairEnvelope"}},
                    "401": {"description": "TOKEN_INVALID, TOKEN_EXPIRED, MISMATCHED_REFRESH_TOKEN or REVOKED_SESSION", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "204": {"description": "Session revoked"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/send-mail": {
            "post": {
                "tags": ["Email"],
                "summary": "Send verification code",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/check-mail": {
            "put": {
                "tags": ["Email"],
                "summary": "Verify code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyChallengeRequest"}}
                ],
                "responses": {
                    "200": {"description": "Verified", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "CHALLENGE_MISMATCH", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "CHALLENGE_NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/me": {
            "get": {
                "tags": ["Users"],
                "summary": "Get current user",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Close account",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CloseAccountRequest"}}
                ],
                "responses": {
                    "204": {"description": "Closed"},
                    "401": {"description": "INVALID_CREDENTIALS", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/me/password": {
            "put": {
                "tags": ["Users"],
                "summary": "Change password",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {
                    "204": {"description": "Changed; session revoked"},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SignUpRequest": {
            "type": "object",
            "required": ["username", "password", "nickname", "email"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "nickname": {"type": "string"},
                "email": {"type": "string"},
                "info": {"type": "string"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "ReissueRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "VerifyChallengeRequest": {
            "type": "object",
            "required": ["email", "key"],
            "properties": {
                "email": {"type": "string"},
                "key": {"type": "string"}
            }
        },
        "ChangePasswordRequest": {
            "type": "object",
            "required": ["old_password", "new_password"],
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"}
            }
        },
        "CloseAccountRequest": {
            "type": "object",
            "required": ["password"],
            "properties": {
                "password": {"type": "string"}
            }
        },
        "TokenPair": {
            "type": "object",
            "properties": {
                "grant_type": {"type": "string"},
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "expired": {"type": "boolean"}
            }
        },
        "TokenPairEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/TokenPair"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
