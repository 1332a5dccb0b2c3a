// Package docs registers Orbit's OpenAPI document with swag so the HTTP
// transport can serve it under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/chat": {
            "post": {
                "description": "Answers one chat turn. Failures are reported in the result body, not the status code.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Ask the assistant",
                "parameters": [
                    {"description": "Chat request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/message.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "Chat result", "schema": {"$ref": "#/definitions/message.ChatResult"}},
                    "400": {"description": "Invalid request body", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/chat/stream": {
            "get": {
                "description": "Upgrades to a WebSocket. Each text message sent is a chat request; replies are chunk frames followed by one done or error frame.",
                "tags": ["chat"],
                "summary": "Stream assistant answers",
                "responses": {"101": {"description": "Switching protocols"}}
            }
        },
        "/v1/chat/clear": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Clear conversation memory",
                "parameters": [
                    {"description": "Session to forget", "name": "request", "in": "body", "required": false, "schema": {"$ref": "#/definitions/message.ClearMemoryRequest"}}
                ],
                "responses": {
                    "200": {"description": "Outcome", "schema": {"$ref": "#/definitions/message.ControlResponse"}},
                    "400": {"description": "Invalid request body", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/assistant/reset": {
            "post": {
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Restart the assistant runtime",
                "responses": {"200": {"description": "Outcome", "schema": {"$ref": "#/definitions/message.ControlResponse"}}}
            }
        },
        "/v1/ableton/connect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["ableton"],
                "summary": "Connect to Ableton Live",
                "responses": {"200": {"description": "Outcome", "schema": {"$ref": "#/definitions/message.AbletonControlResponse"}}}
            }
        },
        "/v1/ableton/disconnect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["ableton"],
                "summary": "Disconnect from Ableton Live",
                "responses": {"200": {"description": "Outcome", "schema": {"$ref": "#/definitions/message.AbletonControlResponse"}}}
            }
        },
        "/v1/ableton/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ableton"],
                "summary": "Connector state",
                "responses": {"200": {"description": "Status", "schema": {"$ref": "#/definitions/message.AbletonStatus"}}}
            }
        },
        "/v1/ableton/command": {
            "post": {
                "description": "Runs one command, e.g. {\"type\":\"set_track_volume\",\"track_id\":0,\"volume\":0.5}.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ableton"],
                "summary": "Execute an Ableton command",
                "parameters": [
                    {"description": "Command", "name": "command", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Outcome", "schema": {"$ref": "#/definitions/message.AbletonControlResponse"}},
                    "400": {"description": "Unreadable body", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "message.ChatRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "text": {"type": "string"},
                "session_id": {"type": "string"},
                "image": {"type": "string", "format": "byte"},
                "timestamp": {"type": "string"}
            }
        },
        "message.ChatResult": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "session_id": {"type": "string"},
                "text": {"type": "string"},
                "backend": {"type": "string"},
                "error": {"type": "string"},
                "error_kind": {"type": "string"},
                "duration_ms": {"type": "integer"}
            }
        },
        "message.AbletonControlResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {"type": "object"}
            }
        },
        "message.ClearMemoryRequest": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"}
            }
        },
        "message.ControlResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "message.AbletonStatus": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "host": {"type": "string"},
                "port": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Orbit API",
	Description:      "Chat assistant and Ableton Live control for music producers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
