// Package docs provides the generated swagger description served at
// /swagger/index.html. Regenerate with:
//
//	swag init -g cmd/api-service/main.go -o docs
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Counter snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            }
        },
        "/users": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "List or look up users",
                "parameters": [
                    {"type": "string", "name": "email", "in": "query", "description": "Exact email lookup"},
                    {"type": "string", "name": "name", "in": "query", "description": "Name fragment search"},
                    {"type": "string", "name": "tags", "in": "query", "description": "Comma-separated tags"},
                    {"type": "string", "name": "status", "in": "query", "description": "Filter by status"},
                    {"type": "integer", "name": "offset", "in": "query", "description": "Paging offset"},
                    {"type": "integer", "name": "limit", "in": "query", "description": "Page size"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Create a new user",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.CreateUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/api.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Get a user by ID",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true, "description": "User ID"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Update an existing user",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true, "description": "User ID"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.UpdateUserRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Delete a user",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true, "description": "User ID"},
                    {"type": "string", "name": "reason", "in": "query", "description": "Deletion reason"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.Response"}}
                }
            }
        }
    },
    "definitions": {
        "api.Response": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {}
            }
        },
        "models.CreateUserRequest": {
            "type": "object",
            "required": ["email", "name"],
            "properties": {
                "name": {"type": "string", "example": "John Doe"},
                "email": {"type": "string", "example": "john@example.com"},
                "age": {"type": "integer", "example": 30},
                "status": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}},
                "profile": {"type": "object"}
            }
        },
        "models.UpdateUserRequest": {
            "type": "object",
            "required": ["version"],
            "properties": {
                "name": {"type": "string"},
                "email": {"type": "string"},
                "age": {"type": "integer"},
                "status": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}},
                "profile": {"type": "object"},
                "version": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "User Lifecycle API",
	Description:      "A RESTful API that manages users with optimistic concurrency and publishes lifecycle events to RabbitMQ for async processing.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
