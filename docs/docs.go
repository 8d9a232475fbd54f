// Package docs holds the OpenAPI description served under /api/swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/providers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Providers"],
                "summary": "List providers",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/llm.ProviderInfo"}}}
                }
            }
        },
        "/v1/sessions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Create a session",
                "parameters": [
                    {"description": "Owner and enabled providers", "name": "sessionRequest", "in": "body", "schema": {"$ref": "#/definitions/api.CreateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Get a session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/conversations": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "List archived turns",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.ConversationTurn"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/events": {
            "get": {
                "produces": ["text/event-stream"],
                "tags": ["Sessions"],
                "summary": "Subscribe to session updates",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Stream of session snapshots", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/prompts": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Submit a prompt",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true},
                    {"description": "Prompt", "name": "promptRequest", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.SubmitPromptRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/providers/{providerID}/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Retry a provider",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true},
                    {"type": "string", "description": "Provider ID", "name": "providerID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/providers/{providerID}/toggle": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Toggle a provider",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true},
                    {"type": "string", "description": "Provider ID", "name": "providerID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/reset": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Reset a session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/{sessionID}/select": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Select the best response",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "sessionID", "in": "path", "required": true},
                    {"description": "Chosen response", "name": "selectRequest", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.SelectResponseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SessionState"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.CreateSessionRequest": {
            "type": "object",
            "properties": {
                "providers": {"type": "array", "items": {"type": "string"}, "example": ["openai", "deepseek"]},
                "userId": {"type": "string", "maxLength": 128, "example": "user-42"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "api.SelectResponseRequest": {
            "type": "object",
            "required": ["responseId"],
            "properties": {"responseId": {"type": "string"}}
        },
        "api.SubmitPromptRequest": {
            "type": "object",
            "required": ["prompt"],
            "properties": {
                "async": {"type": "boolean"},
                "context": {"type": "array", "items": {"$ref": "#/definitions/model.Message"}},
                "prompt": {"type": "string", "maxLength": 32000, "example": "Explain goroutines in one paragraph."},
                "providers": {"type": "array", "items": {"type": "string"}}
            }
        },
        "llm.ProviderInfo": {
            "type": "object",
            "properties": {
                "configured": {"type": "boolean"},
                "credentialEnv": {"type": "string"},
                "displayName": {"type": "string"},
                "endpoint": {"type": "string"},
                "id": {"type": "string"},
                "model": {"type": "string"},
                "shape": {"type": "string", "enum": ["message", "flat"]},
                "streaming": {"type": "boolean"}
            }
        },
        "model.ConversationTurn": {
            "type": "object",
            "properties": {
                "allResponses": {"type": "array", "items": {"$ref": "#/definitions/model.ProviderResponse"}},
                "id": {"type": "string"},
                "selectedResponse": {"$ref": "#/definitions/model.ProviderResponse"},
                "sessionId": {"type": "string"},
                "timestamp": {"type": "string"},
                "userPrompt": {"type": "string"}
            }
        },
        "model.Message": {
            "type": "object",
            "required": ["role"],
            "properties": {
                "content": {"type": "string"},
                "role": {"type": "string", "enum": ["system", "user", "assistant"]}
            }
        },
        "model.ProviderResponse": {
            "type": "object",
            "properties": {
                "errorMessage": {"type": "string"},
                "id": {"type": "string"},
                "isStreaming": {"type": "boolean"},
                "metrics": {"$ref": "#/definitions/model.ResponseMetrics"},
                "model": {"type": "string"},
                "prompt": {"type": "string"},
                "provider": {"type": "string"},
                "responseText": {"type": "string"},
                "retryCount": {"type": "integer"},
                "status": {"type": "string", "enum": ["pending", "streaming", "success", "error", "rate-limited", "timeout"]},
                "streamingProgress": {"type": "integer"},
                "timestamp": {"type": "string"}
            }
        },
        "model.ResponseMetrics": {
            "type": "object",
            "properties": {
                "firstTokenLatencyMs": {"type": "integer"},
                "latencyMs": {"type": "integer"},
                "responseLength": {"type": "integer"},
                "tokenCountEstimate": {"type": "integer"},
                "tokensPerSecond": {"type": "number"}
            }
        },
        "model.SessionState": {
            "type": "object",
            "properties": {
                "conversationHistory": {"type": "array", "items": {"$ref": "#/definitions/model.ConversationTurn"}},
                "createdAt": {"type": "string"},
                "currentContext": {"type": "array", "items": {"$ref": "#/definitions/model.Message"}},
                "currentPrompt": {"type": "string"},
                "currentResponses": {"type": "array", "items": {"$ref": "#/definitions/model.ProviderResponse"}},
                "enabledProviders": {"type": "array", "items": {"type": "string"}},
                "generation": {"type": "integer"},
                "id": {"type": "string"},
                "isProcessing": {"type": "boolean"},
                "selectedResponseId": {"type": "string"},
                "updatedAt": {"type": "string"},
                "userId": {"type": "string"},
                "version": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "AI Arena API",
	Description:      "Sends one prompt to several LLM providers at once and streams their answers and metrics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
