package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "ESI Helpdesk Backend",
    "description": "Knowledge-grounded helpdesk chat with guardrails and ticket escalation",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "paths": {
    "/api/chat": {
      "post": {"tags": ["chat"], "summary": "Send a chat turn", "responses": {"200": {"description": "turn result"}}}
    },
    "/api/conversations/{id}/messages": {
      "get": {"tags": ["chat"], "summary": "Conversation messages", "responses": {"200": {"description": "messages"}}}
    },
    "/api/tickets": {
      "get": {"tags": ["tickets"], "summary": "List tickets", "security": [{"AdminKey": []}], "responses": {"200": {"description": "tickets"}}}
    },
    "/api/tickets/{id}": {
      "get": {"tags": ["tickets"], "summary": "Ticket details", "security": [{"AdminKey": []}], "responses": {"200": {"description": "ticket"}, "404": {"description": "not found"}}},
      "patch": {"tags": ["tickets"], "summary": "Update ticket", "security": [{"AdminKey": []}], "responses": {"200": {"description": "ticket"}, "400": {"description": "validation error"}}}
    },
    "/api/metrics/summary": {
      "get": {"tags": ["metrics"], "summary": "Helpdesk metrics summary", "security": [{"AdminKey": []}], "responses": {"200": {"description": "summary"}}}
    },
    "/api/metrics/trends": {
      "get": {"tags": ["metrics"], "summary": "Daily helpdesk trends", "security": [{"AdminKey": []}], "responses": {"200": {"description": "trends"}}}
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
