// Package docs holds the OpenAPI description of the ledger API served under /swagger.
package docs

import "github.com/swaggo/swag/v2"

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
        "/documents": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Creates or updates a source document and re-derives its batches, movements and cash entries",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Record a source document",
                "parameters": [
                    {"description": "Document with its kind", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.DocumentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "422": {"description": "Insufficient stock", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            }
        },
        "/documents/import": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Records every row of a CSV upload; rows fail independently",
                "consumes": ["multipart/form-data", "text/csv"],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Import documents from CSV",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            }
        },
        "/documents/{kind}/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Get a source document",
                "parameters": [
                    {"type": "string", "description": "Document kind, e.g. SALE_LINE", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "description": "Document ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Delete a source document and every ledger row it caused",
                "parameters": [
                    {"type": "string", "description": "Document kind", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "description": "Document ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "409": {"description": "Batch still consumed", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            }
        },
        "/products": {
            "get": {
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "List products",
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "Create a product",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "409": {"description": "Duplicate code", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            }
        },
        "/products/{id}/quantity": {
            "get": {
                "produces": ["application/json"],
                "tags": ["valuation"],
                "summary": "Quantity on hand before an instant",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "date-time", "description": "Exclusive instant, defaults to now", "name": "at", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/products/{id}/stock-value": {
            "get": {
                "produces": ["application/json"],
                "tags": ["valuation"],
                "summary": "FIFO value of remaining stock before an instant",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "date-time", "name": "at", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/products/{id}/cogs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["valuation"],
                "summary": "Cost of goods sold over [start, end)",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "date-time", "name": "start", "in": "query", "required": true},
                    {"type": "string", "format": "date-time", "name": "end", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/products/{id}/flow": {
            "get": {
                "produces": ["application/json"],
                "tags": ["valuation"],
                "summary": "Incoming and outgoing quantity over [start, end)",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "date-time", "name": "start", "in": "query", "required": true},
                    {"type": "string", "format": "date-time", "name": "end", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/cash": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Cash balance before an instant",
                "parameters": [
                    {"type": "string", "format": "date-time", "name": "at", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/reports/period": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Period report over [open, close)",
                "parameters": [
                    {"type": "string", "format": "date", "name": "open", "in": "query", "required": true},
                    {"type": "string", "format": "date", "name": "close", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}}}
            }
        },
        "/maintenance/rebuild": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["maintenance"],
                "summary": "Discard and replay every derived ledger row",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Response"}},
                    "409": {"description": "Rebuild already running", "schema": {"$ref": "#/definitions/dto.Response"}}
                }
            }
        }
    },
    "definitions": {
        "dto.ErrorInfo": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "request_id": {"type": "string"},
                "help": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "dto.DocumentRequest": {
            "type": "object",
            "required": ["kind"],
            "properties": {
                "kind": {"type": "string", "enum": ["PURCHASE_LINE", "SALE_LINE", "STOCK_ADJUSTMENT", "STOCK_CONVERSION", "EXPENSE", "CASH_ADJUSTMENT"]},
                "id": {"type": "string", "format": "uuid"},
                "product_id": {"type": "string", "format": "uuid"},
                "quantity": {"type": "string"},
                "date": {"type": "string", "format": "date-time"}
            }
        },
        "dto.Response": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {},
                "error": {"$ref": "#/definitions/dto.ErrorInfo"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Stock Ledger API",
	Description:      "FIFO batch stock ledger: documents, valuation, cash and maintenance.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
